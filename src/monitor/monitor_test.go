package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 模拟注册表的一台设备
type fakeSource struct {
	mu       sync.Mutex
	ids      []uint32
	fresh    bool
	dets     []inter.Detection
	capacity int
	waiting  bool
	requests int
	resets   int
}

func (f *fakeSource) Devices() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.ids...)
}

func (f *fakeSource) DetectionsAreFresh(uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fresh, nil
}

func (f *fakeSource) GetDetections(_ uint32, limit int, out []inter.Detection) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fresh = false
	n := copy(out[:limit], f.dets)
	f.dets = f.dets[n:]
	return n, nil
}

func (f *fakeSource) BlockCapacity(uint32) (int, error) {
	return f.capacity, nil
}

func (f *fakeSource) RequestFrame(uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waiting {
		return inter.ErrFrameRequestPending
	}
	f.waiting = true
	f.requests++
	return nil
}

func (f *fakeSource) GetFrame(_ uint32, out []byte) error {
	out[0] = 0xEE
	return nil
}

func (f *fakeSource) ResetFrameWait(uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiting = false
	f.resets++
	return nil
}

func (f *fakeSource) frameArrived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiting = false
}

type recordingSink struct {
	mu      sync.Mutex
	batches []inter.DetectionBatch
	frames  [][]byte
}

func (r *recordingSink) SaveBatch(b inter.DetectionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recordingSink) SaveFrame(_ uint32, _ time.Time, pixels []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), pixels...))
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBatchQueue_DropOldest(t *testing.T) {
	q := NewBatchQueue(2)

	assert.False(t, q.Push(inter.DetectionBatch{ID: "1", DeviceID: 7}))
	assert.False(t, q.Push(inter.DetectionBatch{ID: "2", DeviceID: 7}))
	assert.True(t, q.Push(inter.DetectionBatch{ID: "3", DeviceID: 7}))
	assert.Equal(t, 2, q.Len(7))
	assert.Equal(t, 0, q.Len(8))

	b, ok := q.Pop(7)
	require.True(t, ok)
	assert.Equal(t, "2", b.ID)
	b, ok = q.Pop(7)
	require.True(t, ok)
	assert.Equal(t, "3", b.ID)
	_, ok = q.Pop(7)
	assert.False(t, ok)
	_, ok = q.Pop(99)
	assert.False(t, ok)
}

func TestPollDetections(t *testing.T) {
	src := &fakeSource{
		ids:      []uint32{5},
		fresh:    true,
		capacity: 4,
		dets: []inter.Detection{
			{Signature: 1, X: 10}, {Signature: 2, X: 20}, {Signature: 3, X: 30},
		},
	}
	sink := &recordingSink{}
	m := New(src, Options{}, []inter.DetectionSink{sink}, nil)

	m.PollOnce()
	m.deliverAll()

	require.Equal(t, 1, sink.count())
	b := sink.batches[0]
	assert.Equal(t, uint32(5), b.DeviceID)
	assert.NotEmpty(t, b.ID)
	assert.Len(t, b.Detections, 3)
	assert.Equal(t, uint16(30), b.Detections[2].X)

	// 不新鲜时不再排空
	m.PollOnce()
	m.deliverAll()
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, uint64(3), m.Stats().Detections)
}

func TestPollFrame(t *testing.T) {
	src := &fakeSource{ids: []uint32{5}, capacity: 1}
	sink := &recordingSink{}
	m := New(src, Options{GrabFrames: true, FrameTimeout: 20 * time.Millisecond}, nil, []inter.FrameSink{sink})

	// 第一次请求只提交
	m.PollOnce()
	assert.Equal(t, 1, src.requests)
	assert.Empty(t, sink.frames)

	// 帧未到达时不重复提交
	m.PollOnce()
	assert.Equal(t, 1, src.requests)

	// 帧到达后下一次请求成功，并保存上一帧
	src.frameArrived()
	m.PollOnce()
	assert.Equal(t, 2, src.requests)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, byte(0xEE), sink.frames[0][0])
	assert.Len(t, sink.frames[0], inter.FrameSize)

	// 响应丢失: 超时后清除等待标志，不保存帧
	time.Sleep(30 * time.Millisecond)
	m.PollOnce()
	assert.Equal(t, 1, src.resets)
	assert.Equal(t, uint64(1), m.Stats().FrameTimeouts)

	m.PollOnce()
	assert.Equal(t, 3, src.requests)
	assert.Len(t, sink.frames, 1)
}

func TestRun_StopsAndFlushes(t *testing.T) {
	src := &fakeSource{ids: []uint32{1}, fresh: true, capacity: 8, dets: []inter.Detection{{X: 1}}}
	sink := &recordingSink{}
	m := New(src, Options{Interval: 2 * time.Millisecond}, []inter.DetectionSink{sink}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 2*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run 未退出")
	}
	assert.Equal(t, uint64(1), m.Stats().Batches)
}

// forgettingSink 记录被清理的设备
type forgettingSink struct {
	recordingSink
	forgotten []uint32
	err       error
}

func (f *forgettingSink) Forget(_ context.Context, id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
	return f.err
}

func TestPollOnce_ForgetsDeparted(t *testing.T) {
	src := &fakeSource{ids: []uint32{5, 6}, capacity: 2}
	forgetting := &forgettingSink{}
	plain := &recordingSink{}
	m := New(src, Options{}, []inter.DetectionSink{plain, forgetting}, nil)

	m.PollOnce()
	assert.Empty(t, forgetting.forgotten)

	// 重新枚举后 6 不再出现
	src.mu.Lock()
	src.ids = []uint32{5}
	src.mu.Unlock()

	m.PollOnce()
	assert.Equal(t, []uint32{6}, forgetting.forgotten)

	// 只清理一次
	m.PollOnce()
	assert.Equal(t, []uint32{6}, forgetting.forgotten)
	assert.Equal(t, uint64(0), m.Stats().SinkErrors)
}

func TestPollOnce_ForgetError(t *testing.T) {
	src := &fakeSource{ids: []uint32{9}, capacity: 2}
	forgetting := &forgettingSink{err: errors.New("redis: connection refused")}
	m := New(src, Options{}, []inter.DetectionSink{forgetting}, nil)

	m.PollOnce()
	src.mu.Lock()
	src.ids = nil
	src.mu.Unlock()
	m.PollOnce()

	assert.Equal(t, []uint32{9}, forgetting.forgotten)
	assert.Equal(t, uint64(1), m.Stats().SinkErrors)
}
