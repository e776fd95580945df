package inter

import (
	"io"
	"time"
)

// =============================================================================
// Goster-Pixy RPC 协议常量与类型定义
// =============================================================================

const (
	// MagicNumber 协议魔数 (0x5043 = "CP")
	MagicNumber uint16 = 0x5043
	// ProtocolVersion 当前协议版本号
	ProtocolVersion uint8 = 0x01
	// HeaderSize 固定头部大小 (20 Bytes)
	HeaderSize uint32 = 20
	// FooterSize 固定尾部大小 (4 Bytes, CRC32)
	FooterSize uint32 = 4
	// MaxPayloadSize 单帧 Payload 上限，需容纳一帧完整图像
	MaxPayloadSize uint32 = 256 * 1024
)

// PacketKind 帧类型
type PacketKind uint8

const (
	// KindCall 远程过程调用请求
	KindCall PacketKind = 0x01 + iota
	// KindResponse 远程过程调用响应
	KindResponse
	// KindResolve 过程名解析请求
	KindResolve
	// KindResolveResp 过程名解析响应
	KindResolveResp
	// KindAsyncData 设备主动推送的异步数据 (检测报告、图像帧)
	KindAsyncData
)

// FlagNoResponse 异步调用: 设备稍后通过 KindAsyncData 回送结果
const FlagNoResponse uint8 = 0x01

// Packet 表示一个解码后的协议帧
type Packet struct {
	Kind    PacketKind
	Flags   uint8
	ProcID  ProcID
	Seq     uint32
	Payload []byte
}

// ProcID 设备端过程编号
type ProcID uint16

// ArgKind 参数类型标记 (线上编码的第一个字节)
type ArgKind uint8

const (
	ArgUint8 ArgKind = 0x01 + iota
	ArgInt8
	ArgUint16
	ArgInt16
	ArgUint32
	ArgInt32
	ArgString
	ArgBytes
)

// Arg 是一个带类型的调用参数或返回值
// 标量存放在 Int 中，字符串与字节数组存放在 Bytes 中
type Arg struct {
	Kind  ArgKind
	Int   int64
	Bytes []byte
}

// Response 同步调用的返回值序列
type Response struct {
	Values []Arg
}

// Int 返回第 i 个标量返回值，不存在时 ok 为 false
func (r Response) Int(i int) (v int64, ok bool) {
	if i < 0 || i >= len(r.Values) {
		return 0, false
	}
	return r.Values[i].Int, true
}

// Bytes 返回第 i 个数组返回值
func (r Response) Bytes(i int) ([]byte, bool) {
	if i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i].Bytes, r.Values[i].Bytes != nil
}

// DispatchFunc 异步数据回调，在 ServiceStep 内部同步调用
type DispatchFunc func(payload []byte)

// TransportLink 字节传输链路 (USB bulk 等)
// timeout 为 0 时实现必须使用一个较短的默认值，而不是无限等待
type TransportLink interface {
	Send(data []byte, timeout time.Duration) (int, error)
	Receive(buf []byte, timeout time.Duration) (int, error)
	Close() error
}

// RpcEngine 远程过程调用引擎
type RpcEngine interface {
	// ResolveProcedure 将过程名解析为设备端编号
	ResolveProcedure(name string) (ProcID, error)
	// CallSync 同步调用并等待响应
	CallSync(id ProcID, args []Arg) (Response, error)
	// CallAsync 只提交请求，结果稍后经由 DispatchFunc 送达
	CallAsync(id ProcID, args []Arg) error
	// ServiceStep 处理至多一个入站帧；blocking 为 false 时只做一次短超时读取
	ServiceStep(blocking bool) (bool, error)
	// Close 释放引擎 (不关闭链路)
	Close() error
}

// EngineFactory 在链路上构造引擎，并注册唯一的异步回调
type EngineFactory func(link TransportLink, dispatch DispatchFunc) (RpcEngine, error)

// ProtocolCodec 定义了协议封包与解包的核心接口
type ProtocolCodec interface {
	// Pack 将一帧封装为传输用的字节流
	Pack(p *Packet) ([]byte, error)

	// Unpack 从输入流中解析出一帧完整的协议包
	Unpack(reader io.Reader) (*Packet, error)

	// Scan 从缓冲区中提取一帧
	// 数据不足时返回 (nil, rest, nil)；校验失败时返回错误，rest 为跳过坏数据后的剩余部分
	Scan(buf []byte) (p *Packet, rest []byte, err error)
}
