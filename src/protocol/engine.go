package protocol

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
)

var debug atomic.Bool

// SetDebug 打开或关闭逐帧调试日志
func SetDebug(on bool) {
	debug.Store(on)
}

func debugf(format string, args ...interface{}) {
	if debug.Load() {
		log.Printf("Engine: "+format, args...)
	}
}

// Options 引擎超时配置
type Options struct {
	// CallTimeout 同步调用与过程解析等待响应的上限
	CallTimeout time.Duration
	// ServiceTimeout 非阻塞 ServiceStep 单次读取的超时
	ServiceTimeout time.Duration
	// LinkTimeout 单次 Send 的超时
	LinkTimeout time.Duration
}

// DefaultOptions 默认超时
func DefaultOptions() Options {
	return Options{
		CallTimeout:    time.Second,
		ServiceTimeout: 10 * time.Millisecond,
		LinkTimeout:    100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.ServiceTimeout <= 0 {
		o.ServiceTimeout = d.ServiceTimeout
	}
	if o.LinkTimeout <= 0 {
		o.LinkTimeout = d.LinkTimeout
	}
	return o
}

// Engine 实现 inter.RpcEngine
// 不是并发安全的: 会话的通道锁保证同一时刻只有一个调用方
type Engine struct {
	link     inter.TransportLink
	codec    inter.ProtocolCodec
	dispatch inter.DispatchFunc
	opts     Options

	seq     uint32
	pending []byte
	rxBuf   []byte
}

// NewEngine 在链路上创建引擎，dispatch 接收设备推送的异步数据
func NewEngine(link inter.TransportLink, dispatch inter.DispatchFunc, opts Options) *Engine {
	return &Engine{
		link:     link,
		codec:    NewPixyCodec(),
		dispatch: dispatch,
		opts:     opts.withDefaults(),
		rxBuf:    make([]byte, 16*1024),
	}
}

// Factory 返回供会话使用的引擎工厂
func Factory(opts Options) inter.EngineFactory {
	return func(link inter.TransportLink, dispatch inter.DispatchFunc) (inter.RpcEngine, error) {
		if link == nil {
			return nil, fmt.Errorf("engine: 链路为空: %w", inter.ErrUsbNoDevice)
		}
		if dispatch == nil {
			return nil, errors.New("engine: 未注册异步回调")
		}
		return NewEngine(link, dispatch, opts), nil
	}
}

func (e *Engine) nextSeq() uint32 {
	e.seq++
	return e.seq
}

func (e *Engine) send(p *inter.Packet) error {
	data, err := e.codec.Pack(p)
	if err != nil {
		return err
	}
	for written := 0; written < len(data); {
		n, err := e.link.Send(data[written:], e.opts.LinkTimeout)
		if err != nil {
			return fmt.Errorf("engine: 发送失败 (已发送 %d/%d): %w", written, len(data), err)
		}
		if n <= 0 {
			return fmt.Errorf("engine: 链路未写入数据 (已发送 %d/%d): %w: %w", written, len(data), inter.ErrUsbIO, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}

// readPacket 先尝试从缓存中取帧，不足时做一次带超时的读取
// 超时且无完整帧时返回 (nil, nil)
func (e *Engine) readPacket(timeout time.Duration) (*inter.Packet, error) {
	if p := e.scan(); p != nil {
		return p, nil
	}

	n, err := e.link.Receive(e.rxBuf, timeout)
	if n > 0 {
		e.pending = append(e.pending, e.rxBuf[:n]...)
	}
	if err != nil && !errors.Is(err, inter.ErrTimeout) {
		return nil, err
	}

	return e.scan(), nil
}

func (e *Engine) scan() *inter.Packet {
	for len(e.pending) > 0 {
		p, rest, err := e.codec.Scan(e.pending)
		e.pending = rest
		if err != nil {
			log.Printf("Engine: 丢弃损坏的帧: %v", err)
			continue
		}
		return p
	}
	return nil
}

// handleUnsolicited 处理不是当前调用在等待的帧
func (e *Engine) handleUnsolicited(p *inter.Packet) {
	switch p.Kind {
	case inter.KindAsyncData:
		e.dispatch(p.Payload)
	case inter.KindResponse, inter.KindResolveResp:
		debugf("丢弃未匹配的响应 (seq %d, proc %d)", p.Seq, p.ProcID)
	default:
		debugf("忽略帧类型 0x%02X", p.Kind)
	}
}

// await 等待指定类型与序号的响应，期间到达的异步数据照常分发
func (e *Engine) await(kind inter.PacketKind, seq uint32) (*inter.Packet, error) {
	deadline := time.Now().Add(e.opts.CallTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("engine: 等待 seq %d: %w", seq, inter.ErrTimeout)
		}
		if remaining > e.opts.ServiceTimeout {
			remaining = e.opts.ServiceTimeout
		}

		p, err := e.readPacket(remaining)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if p.Kind == kind && p.Seq == seq {
			return p, nil
		}
		e.handleUnsolicited(p)
	}
}

func (e *Engine) ResolveProcedure(name string) (inter.ProcID, error) {
	seq := e.nextSeq()
	if err := e.send(&inter.Packet{Kind: inter.KindResolve, Seq: seq, Payload: []byte(name)}); err != nil {
		return 0, err
	}

	resp, err := e.await(inter.KindResolveResp, seq)
	if err != nil {
		return 0, err
	}

	status, _, err := DecodeStatus(resp.Payload)
	if err != nil {
		return 0, err
	}
	if status < 0 {
		return 0, &inter.RemoteError{Proc: name, Code: status}
	}

	debugf("解析 %q -> %d", name, resp.ProcID)
	return resp.ProcID, nil
}

func (e *Engine) CallSync(id inter.ProcID, args []inter.Arg) (inter.Response, error) {
	payload, err := EncodeArgs(args)
	if err != nil {
		return inter.Response{}, err
	}

	seq := e.nextSeq()
	if err := e.send(&inter.Packet{Kind: inter.KindCall, ProcID: id, Seq: seq, Payload: payload}); err != nil {
		return inter.Response{}, err
	}

	resp, err := e.await(inter.KindResponse, seq)
	if err != nil {
		return inter.Response{}, err
	}

	status, values, err := DecodeStatus(resp.Payload)
	if err != nil {
		return inter.Response{}, err
	}
	if status < 0 {
		return inter.Response{}, &inter.RemoteError{Proc: fmt.Sprintf("#%d", id), Code: status}
	}
	return inter.Response{Values: values}, nil
}

func (e *Engine) CallAsync(id inter.ProcID, args []inter.Arg) error {
	payload, err := EncodeArgs(args)
	if err != nil {
		return err
	}
	return e.send(&inter.Packet{
		Kind:    inter.KindCall,
		Flags:   inter.FlagNoResponse,
		ProcID:  id,
		Seq:     e.nextSeq(),
		Payload: payload,
	})
}

func (e *Engine) ServiceStep(blocking bool) (bool, error) {
	timeout := e.opts.ServiceTimeout
	if blocking {
		timeout = e.opts.CallTimeout
	}

	p, err := e.readPacket(timeout)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	e.handleUnsolicited(p)
	return true, nil
}

// Close 丢弃未处理的缓存数据，链路由会话负责关闭
func (e *Engine) Close() error {
	e.pending = nil
	return nil
}
