package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nhirsama/goster-pixy/src/inter"
)

var debug atomic.Bool

// SetDebug 打开或关闭逐批次调试日志
func SetDebug(on bool) {
	debug.Store(on)
}

func debugf(format string, args ...interface{}) {
	if debug.Load() {
		log.Printf("Monitor: "+format, args...)
	}
}

// Source 监视器读取的设备接口，*registry.Registry 实现了该接口
type Source interface {
	Devices() []uint32
	DetectionsAreFresh(id uint32) (bool, error)
	GetDetections(id uint32, limit int, out []inter.Detection) (int, error)
	BlockCapacity(id uint32) (int, error)
	RequestFrame(id uint32) error
	GetFrame(id uint32, out []byte) error
	ResetFrameWait(id uint32) error
}

// Options 监视器参数
type Options struct {
	Interval time.Duration
	// GrabFrames 为 true 时持续请求图像帧
	GrabFrames bool
	// FrameTimeout 帧请求超过该时间未完成时清除等待标志
	FrameTimeout time.Duration
	// QueueSize 每台设备待投递批次的上限
	QueueSize int
}

// Stats 运行计数
type Stats struct {
	Batches       uint64 `json:"batches"`
	Detections    uint64 `json:"detections"`
	Frames        uint64 `json:"frames"`
	Dropped       uint64 `json:"dropped"`
	FrameTimeouts uint64 `json:"frame_timeouts"`
	SinkErrors    uint64 `json:"sink_errors"`
}

// Monitor 周期性排空每台设备的检测结果，并投递给下游
type Monitor struct {
	src    Source
	sinks  []inter.DetectionSink
	frames []inter.FrameSink
	opts   Options
	queue  *BatchQueue
	notify chan struct{}

	// 仅由 Run 所在的 goroutine 访问
	buffers   map[uint32][]inter.Detection
	requested map[uint32]time.Time
	known     map[uint32]struct{}
	frameBuf  []byte

	batches, detections, framesSaved, dropped, frameTimeouts, sinkErrors atomic.Uint64
}

// New 创建监视器
func New(src Source, opts Options, sinks []inter.DetectionSink, frames []inter.FrameSink) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 2 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Monitor{
		src:       src,
		sinks:     sinks,
		frames:    frames,
		opts:      opts,
		queue:     NewBatchQueue(opts.QueueSize),
		notify:    make(chan struct{}, 1),
		buffers:   make(map[uint32][]inter.Detection),
		requested: make(map[uint32]time.Time),
		known:     make(map[uint32]struct{}),
		frameBuf:  make([]byte, inter.FrameSize),
	}
}

// Stats 返回当前计数
func (m *Monitor) Stats() Stats {
	return Stats{
		Batches:       m.batches.Load(),
		Detections:    m.detections.Load(),
		Frames:        m.framesSaved.Load(),
		Dropped:       m.dropped.Load(),
		FrameTimeouts: m.frameTimeouts.Load(),
		SinkErrors:    m.sinkErrors.Load(),
	}
}

// Run 阻塞直到 ctx 结束；退出前投递完队列中剩余的批次
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	workerCtx, stopWorker := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.deliverLoop(workerCtx)
	}()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	log.Printf("Monitor: 启动，间隔 %s，抓帧 %v", m.opts.Interval, m.opts.GrabFrames)
	for {
		select {
		case <-ctx.Done():
			stopWorker()
			wg.Wait()
			m.deliverAll()
			log.Printf("Monitor: 退出 (%d 批次，%d 条检测，%d 帧)", m.batches.Load(), m.detections.Load(), m.framesSaved.Load())
			return nil
		case <-ticker.C:
			m.PollOnce()
		}
	}
}

// PollOnce 对每台已接入的设备执行一次排空与抓帧
func (m *Monitor) PollOnce() {
	ids := m.src.Devices()
	m.forgetDeparted(ids)
	for _, id := range ids {
		m.pollDetections(id)
		if m.opts.GrabFrames {
			m.pollFrame(id)
		}
	}
}

// forgetDeparted 清理已不在注册表中的设备，并通知实现了 DeviceForgetter 的下游
func (m *Monitor) forgetDeparted(ids []uint32) {
	current := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		current[id] = struct{}{}
	}

	for id := range m.known {
		if _, ok := current[id]; ok {
			continue
		}
		delete(m.buffers, id)
		delete(m.requested, id)
		log.Printf("Monitor: 设备 0x%08X 已离线", id)
		for _, sink := range m.sinks {
			forgetter, ok := sink.(inter.DeviceForgetter)
			if !ok {
				continue
			}
			if err := forgetter.Forget(context.Background(), id); err != nil {
				m.sinkErrors.Add(1)
				log.Printf("Monitor: 0x%08X 清理下游状态失败 (%T): %v", id, sink, err)
			}
		}
	}
	m.known = current
}

func (m *Monitor) pollDetections(id uint32) {
	fresh, err := m.src.DetectionsAreFresh(id)
	if err != nil || !fresh {
		return
	}

	buf, ok := m.buffers[id]
	if !ok {
		capacity, err := m.src.BlockCapacity(id)
		if err != nil {
			return
		}
		buf = make([]inter.Detection, capacity)
		m.buffers[id] = buf
	}

	n, err := m.src.GetDetections(id, len(buf), buf)
	if err != nil {
		debugf("0x%08X 读取检测结果失败: %v", id, err)
		return
	}
	if n == 0 {
		return
	}

	batch := inter.DetectionBatch{
		ID:         uuid.NewString(),
		DeviceID:   id,
		CapturedAt: time.Now(),
		Detections: append([]inter.Detection(nil), buf[:n]...),
	}
	if m.queue.Push(batch) {
		m.dropped.Add(1)
		debugf("0x%08X 投递队列已满，丢弃最早的批次", id)
	}
	m.batches.Add(1)
	m.detections.Add(uint64(n))

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// pollFrame 请求成功且此前有未完成的请求，说明上一帧已经到达
func (m *Monitor) pollFrame(id uint32) {
	err := m.src.RequestFrame(id)
	switch {
	case err == nil:
		if _, outstanding := m.requested[id]; outstanding {
			m.saveFrame(id)
		}
		m.requested[id] = time.Now()

	case errors.Is(err, inter.ErrFrameRequestPending):
		since, ok := m.requested[id]
		if ok && time.Since(since) > m.opts.FrameTimeout {
			log.Printf("Monitor: 0x%08X 图像请求超时，清除等待标志", id)
			_ = m.src.ResetFrameWait(id)
			delete(m.requested, id)
			m.frameTimeouts.Add(1)
		}

	default:
		debugf("0x%08X 请求图像失败: %v", id, err)
	}
}

func (m *Monitor) saveFrame(id uint32) {
	if err := m.src.GetFrame(id, m.frameBuf); err != nil {
		debugf("0x%08X 读取图像失败: %v", id, err)
		return
	}
	now := time.Now()
	for _, sink := range m.frames {
		if err := sink.SaveFrame(id, now, m.frameBuf); err != nil {
			m.sinkErrors.Add(1)
			log.Printf("Monitor: 0x%08X 保存图像失败 (%T): %v", id, sink, err)
		}
	}
	m.framesSaved.Add(1)
}

func (m *Monitor) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.notify:
			m.deliverAll()
		}
	}
}

func (m *Monitor) deliverAll() {
	for _, id := range m.queue.Devices() {
		for {
			batch, ok := m.queue.Pop(id)
			if !ok {
				break
			}
			m.deliver(batch)
		}
	}
}

func (m *Monitor) deliver(batch inter.DetectionBatch) {
	for _, sink := range m.sinks {
		if err := sink.SaveBatch(batch); err != nil {
			m.sinkErrors.Add(1)
			log.Printf("Monitor: 0x%08X 批次投递失败 (%T): %v", batch.DeviceID, sink, err)
		}
	}
	debugf("0x%08X 投递 %d 条检测结果", batch.DeviceID, len(batch.Detections))
}
