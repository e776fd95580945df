package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/nhirsama/goster-pixy/src/protocol"
)

// Options 模拟设备参数
type Options struct {
	// ReportInterval 主动推送 CCB2 报告的间隔，0 表示不推送
	ReportInterval time.Duration
	// PlainBlocks / ColorCodeBlocks 每份报告中的记录数
	PlainBlocks     int
	ColorCodeBlocks int
}

// Device 在内存中模拟一台传感器，实现 inter.TransportLink (主机一侧)
type Device struct {
	uid   uint32
	opts  Options
	codec inter.ProtocolCodec

	mu         sync.Mutex
	inbox      []byte // 主机已发送、尚未解析的字节
	outbox     []byte // 等待主机读取的字节
	procs      []string
	params     map[string]int64
	lastReport time.Time
	reports    uint16
	frames     byte
	closed     bool
	closes     int
	rejectUID  bool

	notify chan struct{}
}

// NewDevice 创建标识为 uid 的模拟设备
func NewDevice(uid uint32, opts Options) *Device {
	return &Device{
		uid:   uid,
		opts:  opts,
		codec: protocol.NewPixyCodec(),
		params: map[string]int64{
			"led":        0,
			"maxCurrent": 40000,
			"awb":        1,
			"wbv":        0x404040,
			"aec":        1,
			"ecv":        20 + 100<<8,
			"brightness": 80,
		},
		lastReport: time.Now(),
		notify:     make(chan struct{}, 1),
	}
}

// UID 设备标识
func (d *Device) UID() uint32 {
	return d.uid
}

// Closed 链路是否已关闭
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Closes Close 被调用的次数
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Param 读取模拟的相机参数 (测试用)
func (d *Device) Param(name string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params[name]
}

// Push 直接注入一段异步数据
func (d *Device) Push(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitLocked(&inter.Packet{Kind: inter.KindAsyncData, Payload: payload})
}

func (d *Device) Send(data []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, inter.ErrUsbNoDevice
	}

	d.inbox = append(d.inbox, data...)
	for {
		p, rest, err := d.codec.Scan(d.inbox)
		d.inbox = rest
		if err != nil {
			continue
		}
		if p == nil {
			break
		}
		if err := d.handleLocked(p); err != nil {
			return len(data), err
		}
	}
	return len(data), nil
}

func (d *Device) Receive(buf []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return 0, inter.ErrUsbNoDevice
		}
		d.maybeReportLocked()
		if len(d.outbox) > 0 {
			n := copy(buf, d.outbox)
			d.outbox = d.outbox[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("sim: 读取超时: %w", inter.ErrTimeout)
		}
		if d.opts.ReportInterval > 0 && remaining > d.opts.ReportInterval {
			remaining = d.opts.ReportInterval
		}

		timer := time.NewTimer(remaining)
		select {
		case <-d.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	if d.closed {
		return fmt.Errorf("sim: 0x%08X 重复关闭", d.uid)
	}
	d.closed = true
	return nil
}

func (d *Device) emitLocked(p *inter.Packet) error {
	data, err := d.codec.Pack(p)
	if err != nil {
		return err
	}
	d.outbox = append(d.outbox, data...)
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

func (d *Device) respondLocked(kind inter.PacketKind, req *inter.Packet, id inter.ProcID, status int32, values ...inter.Arg) error {
	payload, err := protocol.EncodeStatus(status, values)
	if err != nil {
		return err
	}
	return d.emitLocked(&inter.Packet{Kind: kind, ProcID: id, Seq: req.Seq, Payload: payload})
}

func (d *Device) handleLocked(p *inter.Packet) error {
	switch p.Kind {
	case inter.KindResolve:
		name := string(p.Payload)
		if !knownProcedure(name) {
			return d.respondLocked(inter.KindResolveResp, p, 0, -1)
		}
		for i, existing := range d.procs {
			if existing == name {
				return d.respondLocked(inter.KindResolveResp, p, inter.ProcID(i+1), 0)
			}
		}
		d.procs = append(d.procs, name)
		return d.respondLocked(inter.KindResolveResp, p, inter.ProcID(len(d.procs)), 0)

	case inter.KindCall:
		idx := int(p.ProcID) - 1
		if idx < 0 || idx >= len(d.procs) {
			return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeInvalidCommand))
		}
		args, err := protocol.DecodeArgs(p.Payload)
		if err != nil {
			return d.respondLocked(inter.KindResponse, p, p.ProcID, int32(inter.CodeProtocol))
		}
		return d.callLocked(d.procs[idx], p, args)
	}
	return nil
}

func (d *Device) maybeReportLocked() {
	if d.opts.ReportInterval <= 0 || time.Since(d.lastReport) < d.opts.ReportInterval {
		return
	}
	d.lastReport = time.Now()
	d.reports++

	plain := make([]Block, d.opts.PlainBlocks)
	for i := range plain {
		x := (d.reports*4 + uint16(i)*30) % (inter.FrameWidth - 20)
		plain[i] = Block{Model: uint16(i%7) + 1, Left: x, Right: x + 20, Top: 40, Bottom: 70}
	}
	colorCoded := make([]Block, d.opts.ColorCodeBlocks)
	for i := range colorCoded {
		colorCoded[i] = Block{Model: 10 + uint16(i), Left: 100, Right: 140, Top: 80, Bottom: 120, Angle: int16(d.reports % 360)}
	}

	_ = d.emitLocked(&inter.Packet{Kind: inter.KindAsyncData, Payload: EncodeCCB2(plain, colorCoded)})
}
