package inter

import (
	"context"
	"time"
)

// 设备与图像常量
const (
	// VendorID / ProductID 传感器 USB 签名
	VendorID  uint16 = 0xB1AC
	ProductID uint16 = 0xF000

	// FrameWidth / FrameHeight 图像帧尺寸 (BA81 Bayer, 每像素 1 字节)
	FrameWidth  = 320
	FrameHeight = 200
	FrameSize   = FrameWidth * FrameHeight

	// DefaultBlockCapacity 检测缓冲区默认容量
	DefaultBlockCapacity = 1000
)

// 设备端过程名
const (
	ProcGetUID   = "getUID"
	ProcGetFrame = "cam_getFrame"
)

// FourCC 将四个字符组合为格式码 (小端，首字符在最低字节)
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// 异步数据格式码
var (
	FormatBA81 = FourCC('B', 'A', '8', '1') // 图像帧
	FormatCCB1 = FourCC('C', 'C', 'B', '1') // 普通检测报告
	FormatCCB2 = FourCC('C', 'C', 'B', '2') // 颜色编码检测报告
	FormatCCQ1 = FourCC('C', 'C', 'Q', '1')
	FormatCMV1 = FourCC('C', 'M', 'V', '1')
	FormatCMV2 = FourCC('C', 'M', 'V', '2')
)

// 异步数据首字节类型标记
const (
	TagTypeHint uint8 = 0x64
	TagString   uint8 = 0x65
)

// BlockType 检测类型
type BlockType uint16

const (
	BlockNormal    BlockType = 0 // 普通签名
	BlockColorCode BlockType = 1 // 颜色编码签名
)

func (t BlockType) String() string {
	switch t {
	case BlockNormal:
		return "normal"
	case BlockColorCode:
		return "color_code"
	default:
		return "unknown"
	}
}

// Detection 一个解码后的检测框
type Detection struct {
	Type      BlockType `json:"type"`
	Signature uint16    `json:"signature"`
	X         uint16    `json:"x"`
	Y         uint16    `json:"y"`
	Width     uint16    `json:"width"`
	Height    uint16    `json:"height"`
	Angle     int16     `json:"angle"` // 仅颜色编码有效，普通检测恒为 0
}

// SessionState 会话状态
type SessionState int32

const (
	StateCreated SessionState = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DetectionBatch 一次排空得到的检测结果
type DetectionBatch struct {
	ID         string      `json:"id"`
	DeviceID   uint32      `json:"device_id"`
	CapturedAt time.Time   `json:"captured_at"`
	Detections []Detection `json:"detections"`
}

// DetectionSink 检测结果的下游 (数据库、消息总线、设备影子)
type DetectionSink interface {
	SaveBatch(batch DetectionBatch) error
}

// FrameSink 可选的图像帧下游
type FrameSink interface {
	SaveFrame(deviceID uint32, capturedAt time.Time, pixels []byte) error
}

// DeviceForgetter 设备离线后清理下游保存的状态，下游可选实现
type DeviceForgetter interface {
	Forget(ctx context.Context, deviceID uint32) error
}
