package session

import (
	"errors"
	"testing"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = time.Millisecond

func startSession(t *testing.T) (*Session, *fakeEngine, *fakeLink) {
	t.Helper()
	engine := newFakeEngine()
	link := &fakeLink{}
	s := NewSession(Options{BlockCapacity: 32, Factory: engine.factory})
	require.NoError(t, s.Init(link))
	t.Cleanup(s.Close)
	return s, engine, link
}

func TestSession_Lifecycle(t *testing.T) {
	engine := newFakeEngine()
	link := &fakeLink{}
	s := NewSession(Options{Factory: engine.factory})

	assert.Equal(t, inter.StateCreated, s.State())
	_, err := s.CallSync("led_set")
	assert.ErrorIs(t, err, inter.ErrNotRunning)

	require.NoError(t, s.Init(link))
	assert.Equal(t, inter.StateRunning, s.State())
	assert.ErrorIs(t, s.Init(link), inter.ErrAlreadyInitialized)

	// 后台线程在运行
	require.Eventually(t, func() bool { return engine.steps.Load() > 10 }, waitFor, tick)

	s.Close()
	assert.Equal(t, inter.StateClosed, s.State())
	assert.Equal(t, int32(1), engine.closed.Load())
	assert.Equal(t, int32(1), link.closed.Load())

	steps := engine.steps.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, steps, engine.steps.Load(), "loop must stop after Close")

	_, err = s.CallSync("led_set")
	assert.ErrorIs(t, err, inter.ErrNotRunning)
	assert.ErrorIs(t, s.RequestFrame(), inter.ErrNotRunning)

	// 重复关闭不再释放资源
	s.Close()
	assert.Equal(t, int32(1), link.closed.Load())
}

func TestSession_InitFailureStartsNothing(t *testing.T) {
	boom := errors.New("boom")
	s := NewSession(Options{Factory: func(inter.TransportLink, inter.DispatchFunc) (inter.RpcEngine, error) {
		return nil, boom
	}})
	link := &fakeLink{}

	err := s.Init(link)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, inter.StateCreated, s.State())
	assert.Nil(t, s.done)
	assert.Equal(t, int32(0), link.closed.Load(), "link stays with the caller on failure")

	s.Close()
	assert.Equal(t, inter.StateClosed, s.State())
}

func TestSession_CallSyncCachesResolution(t *testing.T) {
	s, engine, _ := startSession(t)
	engine.syncResp = inter.Response{Values: []inter.Arg{inter.Int32(7)}}

	resp, err := s.CallSync("led_set", inter.Uint32(0xFF0000))
	require.NoError(t, err)
	v, ok := resp.Int(0)
	require.True(t, ok)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, 1, engine.resolves("led_set"))

	_, err = s.CallSync("led_set", inter.Uint32(0x00FF00))
	require.NoError(t, err)
	assert.Equal(t, 1, engine.resolves("led_set"), "second call must hit the cache")
}

func TestSession_CallSyncUnknownProcedure(t *testing.T) {
	s, engine, _ := startSession(t)

	_, err := s.CallSync("no_such_proc")
	require.ErrorIs(t, err, inter.ErrInvalidCommand)
	_, err = s.CallSync("no_such_proc")
	require.ErrorIs(t, err, inter.ErrInvalidCommand)

	assert.Equal(t, 2, engine.resolves("no_such_proc"), "failed resolution must not be cached")
}

func TestSession_CallSyncPassesEngineErrorThrough(t *testing.T) {
	s, engine, _ := startSession(t)
	remote := &inter.RemoteError{Proc: "led_set", Code: -3}
	engine.mu.Lock()
	engine.syncErr = remote
	engine.mu.Unlock()

	_, err := s.CallSync("led_set")
	assert.Same(t, remote, err)
}

func TestSession_FrameRequestGuard(t *testing.T) {
	s, engine, _ := startSession(t)

	require.NoError(t, s.RequestFrame())
	assert.ErrorIs(t, s.RequestFrame(), inter.ErrFrameRequestPending)

	t.Run("ResetFrameWait", func(t *testing.T) {
		s.ResetFrameWait()
		require.NoError(t, s.RequestFrame())
		assert.ErrorIs(t, s.RequestFrame(), inter.ErrFrameRequestPending)
	})

	t.Run("FrameArrival", func(t *testing.T) {
		engine.inbox <- ba81Payload(0x11)
		require.Eventually(t, func() bool { return s.RequestFrame() == nil }, waitFor, tick)

		out := make([]byte, inter.FrameSize)
		require.NoError(t, s.GetFrame(out))
		assert.Equal(t, byte(0x11), out[100])
	})

	assert.Equal(t, 1, engine.resolves(inter.ProcGetFrame))
}

func TestSession_FrameRequestSubmitFailureLeavesFlagClear(t *testing.T) {
	s, engine, _ := startSession(t)
	engine.mu.Lock()
	engine.asyncErr = inter.ErrUsbIO
	engine.mu.Unlock()

	assert.ErrorIs(t, s.RequestFrame(), inter.ErrUsbIO)

	engine.mu.Lock()
	engine.asyncErr = nil
	engine.mu.Unlock()
	assert.NoError(t, s.RequestFrame())
}

func TestSession_DetectionsFromLoop(t *testing.T) {
	s, engine, _ := startSession(t)
	assert.False(t, s.DetectionsAreFresh())

	engine.inbox <- ccb1Payload(numbered(0, 4))
	require.Eventually(t, s.DetectionsAreFresh, waitFor, tick)

	out := make([]inter.Detection, 2)
	n, err := s.GetDetections(2, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint16(0), out[0].Signature)
	assert.False(t, s.DetectionsAreFresh())
}

func TestSession_GetDetectionsParameters(t *testing.T) {
	s := NewSession(Options{})

	_, err := s.GetDetections(-1, make([]inter.Detection, 1))
	assert.ErrorIs(t, err, inter.ErrInvalidParameter)
	_, err = s.GetDetections(1, nil)
	assert.ErrorIs(t, err, inter.ErrInvalidParameter)
	assert.ErrorIs(t, s.GetFrame(make([]byte, 10)), inter.ErrInvalidParameter)
}

func TestSession_LoopSurvivesStepFailures(t *testing.T) {
	s, engine, _ := startSession(t)
	engine.mu.Lock()
	engine.stepErr = inter.ErrUsbIO
	engine.mu.Unlock()

	before := engine.steps.Load()
	require.Eventually(t, func() bool { return engine.steps.Load() > before+100 }, waitFor, tick)
	assert.Equal(t, inter.StateRunning, s.State())

	engine.inbox <- ccb1Payload(numbered(0, 1))
	require.Eventually(t, s.DetectionsAreFresh, waitFor, tick)
}
