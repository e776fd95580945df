package inter

import "context"

// DeviceCandidate 一个待接入的物理设备
// Registry 按 Open -> Configure -> ClaimInterfaces -> Reset 的顺序推进，
// 任一步失败时调用 Release 回滚已获得的资源
type DeviceCandidate interface {
	// Describe 返回用于日志的设备描述
	Describe() string
	Open() error
	Configure() error
	ClaimInterfaces() error
	Reset() error
	// Link 返回已就绪的传输链路，其 Close 负责释放接口与句柄
	Link() (TransportLink, error)
	// Release 回滚尚未移交给链路的资源，可重复调用
	Release()
}

// Discoverer 枚举匹配 VID/PID 的设备
type Discoverer interface {
	Discover(ctx context.Context) ([]DeviceCandidate, error)
	Close() error
}
