package session

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nhirsama/goster-pixy/src/inter"
)

var debug atomic.Bool

// SetDebug 打开或关闭逐步骤调试日志
func SetDebug(on bool) {
	debug.Store(on)
}

// Options 会话构造参数
type Options struct {
	// BlockCapacity 检测缓冲区容量，<= 0 时使用默认值
	BlockCapacity int
	// Factory 在链路上构造 RPC 引擎
	Factory inter.EngineFactory
}

// Session 单个设备的会话
//
// 锁顺序 (由外到内): chirpMu -> detections.mu / frame.mu。
// 所有访问引擎与过程缓存的操作都经过 chirpMu 串行化。
type Session struct {
	id      atomic.Uint32
	state   atomic.Int32
	closing atomic.Bool

	factory inter.EngineFactory

	// 通道访问点
	chirpMu   sync.Mutex
	link      inter.TransportLink
	engine    inter.RpcEngine
	procCache map[string]inter.ProcID

	waitingForFrame atomic.Bool

	detections *DetectionBuffer
	frame      *FrameBuffer

	done chan struct{}
}

// NewSession 创建处于 Created 状态的会话
func NewSession(opts Options) *Session {
	return &Session{
		factory:    opts.Factory,
		procCache:  make(map[string]inter.ProcID),
		detections: NewDetectionBuffer(opts.BlockCapacity),
		frame:      NewFrameBuffer(),
	}
}

// ID 返回握手得到的设备标识，握手前为 0
func (s *Session) ID() uint32 {
	return s.id.Load()
}

// SetID 记录握手得到的设备标识
func (s *Session) SetID(id uint32) {
	s.id.Store(id)
}

// State 返回当前状态
func (s *Session) State() inter.SessionState {
	return inter.SessionState(s.state.Load())
}

// Init 绑定链路、构造引擎、注册异步回调并启动解释器线程
// 失败时不启动后台线程，链路仍归调用方所有
func (s *Session) Init(link inter.TransportLink) error {
	s.chirpMu.Lock()
	defer s.chirpMu.Unlock()

	if s.State() != inter.StateCreated {
		return inter.ErrAlreadyInitialized
	}
	if s.factory == nil {
		return fmt.Errorf("session: 未配置引擎工厂: %w", inter.ErrProtocol)
	}

	engine, err := s.factory(link, s.interpret)
	if err != nil {
		return fmt.Errorf("session: 构造 RPC 引擎失败: %w", err)
	}

	s.link = link
	s.engine = engine
	s.waitingForFrame.Store(false)
	s.done = make(chan struct{})
	s.state.Store(int32(inter.StateRunning))

	go s.interpreterLoop()

	s.debugf("Init() 完成")
	return nil
}

// Close 通知解释器线程退出并等待，然后释放引擎与链路
// 不可由两个调用方并发调用
func (s *Session) Close() {
	switch s.State() {
	case inter.StateClosed:
		return
	case inter.StateCreated:
		s.state.Store(int32(inter.StateClosed))
		return
	}

	s.debugf("Close()")
	s.state.Store(int32(inter.StateClosing))
	s.closing.Store(true)
	<-s.done

	s.chirpMu.Lock()
	defer s.chirpMu.Unlock()

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logf("关闭 RPC 引擎失败: %v", err)
		}
		s.engine = nil
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.logf("关闭链路失败: %v", err)
		}
		s.link = nil
	}

	s.state.Store(int32(inter.StateClosed))
	s.debugf("Close() 返回")
}

// resolveLocked 经过程缓存解析过程名，调用方须持有 chirpMu
func (s *Session) resolveLocked(name string) (inter.ProcID, error) {
	if id, ok := s.procCache[name]; ok {
		return id, nil
	}

	id, err := s.engine.ResolveProcedure(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%v)", inter.ErrInvalidCommand, name, err)
	}

	s.procCache[name] = id
	return id, nil
}

// CallSync 按名称同步调用设备端过程，引擎的错误原样返回
func (s *Session) CallSync(name string, args ...inter.Arg) (inter.Response, error) {
	s.chirpMu.Lock()
	defer s.chirpMu.Unlock()

	if s.State() != inter.StateRunning {
		return inter.Response{}, inter.ErrNotRunning
	}

	id, err := s.resolveLocked(name)
	if err != nil {
		return inter.Response{}, err
	}

	return s.engine.CallSync(id, args)
}

// frameRequestArgs 请求整幅图像: renderFlags 0x21, 区域 (0, 0, 320, 200)
var frameRequestArgs = []inter.Arg{
	inter.Uint8(0x21),
	inter.Uint16(0),
	inter.Uint16(0),
	inter.Uint16(inter.FrameWidth),
	inter.Uint16(inter.FrameHeight),
}

// RequestFrame 异步请求一帧图像，只有提交成功才置位等待标志
func (s *Session) RequestFrame() error {
	s.chirpMu.Lock()
	defer s.chirpMu.Unlock()

	if s.State() != inter.StateRunning {
		return inter.ErrNotRunning
	}
	if s.waitingForFrame.Load() {
		return inter.ErrFrameRequestPending
	}

	id, err := s.resolveLocked(inter.ProcGetFrame)
	if err != nil {
		return err
	}

	if err := s.engine.CallAsync(id, frameRequestArgs); err != nil {
		return err
	}
	s.waitingForFrame.Store(true)
	return nil
}

// GetFrame 复制当前帧，不等待新帧
func (s *Session) GetFrame(out []byte) error {
	if len(out) < inter.FrameSize {
		return inter.ErrInvalidParameter
	}
	s.frame.Read(out)
	return nil
}

// ResetFrameWait 无条件清除等待标志，用于响应丢失的情况
func (s *Session) ResetFrameWait() {
	s.waitingForFrame.Store(false)
}

// GetDetections 按从旧到新复制至多 limit 条检测结果，总是清除新鲜标志
func (s *Session) GetDetections(limit int, out []inter.Detection) (int, error) {
	if limit < 0 || out == nil {
		return 0, inter.ErrInvalidParameter
	}
	return s.detections.Drain(limit, out), nil
}

// DetectionsAreFresh 自上次读取后是否有新解码的检测结果
func (s *Session) DetectionsAreFresh() bool {
	return s.detections.Fresh()
}

// BlockCapacity 返回检测缓冲区容量
func (s *Session) BlockCapacity() int {
	return s.detections.Capacity()
}

func (s *Session) logf(format string, args ...interface{}) {
	log.Printf("Session[0x%08X]: "+format, append([]interface{}{s.ID()}, args...)...)
}

func (s *Session) debugf(format string, args ...interface{}) {
	if debug.Load() {
		s.logf(format, args...)
	}
}
