package inter

import (
	"errors"
	"fmt"
)

// 会话与注册表的标准错误
var (
	ErrNotFound            = errors.New("registry: 未找到对应设备")
	ErrNotRunning          = errors.New("session: 会话未运行")
	ErrAlreadyInitialized  = errors.New("session: 会话已初始化")
	ErrFrameRequestPending = errors.New("session: 已有未完成的图像请求")
	ErrInvalidCommand      = errors.New("session: 无法解析的过程名")
	ErrInvalidParameter    = errors.New("session: 参数无效")
)

// 传输与协议层错误
var (
	ErrUsbIO       = errors.New("usb: I/O 错误")
	ErrUsbBusy     = errors.New("usb: 设备忙")
	ErrUsbNoDevice = errors.New("usb: 设备已断开")
	ErrUsbNotFound = errors.New("usb: 未找到目标")
	ErrProtocol    = errors.New("protocol: 协议错误")
	ErrTimeout     = errors.New("protocol: 等待响应超时")
)

// 公共指令接口使用的整型错误码
const (
	CodeSuccess             = 0
	CodeNotFound            = -1
	CodeUsbIO               = -101
	CodeUsbNoDevice         = -104
	CodeUsbNotFound         = -105
	CodeUsbBusy             = -106
	CodeInvalidParameter    = -150
	CodeProtocol            = -151
	CodeInvalidCommand      = -152
	CodeTimeout             = -153
	CodeNotRunning          = -201
	CodeFrameRequestPending = -202
)

// RemoteError 设备端过程返回的负状态码，原样向上传递
type RemoteError struct {
	Proc string
	Code int32
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: 过程 %s 返回错误码 %d", e.Proc, e.Code)
}

var codeTable = []struct {
	err  error
	code int
}{
	{ErrNotFound, CodeNotFound},
	{ErrUsbIO, CodeUsbIO},
	{ErrUsbNoDevice, CodeUsbNoDevice},
	{ErrUsbNotFound, CodeUsbNotFound},
	{ErrUsbBusy, CodeUsbBusy},
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrInvalidCommand, CodeInvalidCommand},
	{ErrTimeout, CodeTimeout},
	{ErrProtocol, CodeProtocol},
	{ErrNotRunning, CodeNotRunning},
	{ErrAlreadyInitialized, CodeNotRunning},
	{ErrFrameRequestPending, CodeFrameRequestPending},
}

// ErrorCode 将错误映射为公共接口的负整数错误码
func ErrorCode(err error) int {
	if err == nil {
		return CodeSuccess
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return int(remote.Code)
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeProtocol
}
