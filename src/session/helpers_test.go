package session

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// =============================================================================
// 报文构造辅助函数
// =============================================================================

type rawBlock struct {
	model, left, right, top, bottom uint16
	angle                           int16
}

func appendWords(buf []byte, words ...uint16) []byte {
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint16(buf, w)
	}
	return buf
}

func section(blocks []rawBlock, colorCode bool) []byte {
	var data []byte
	for _, b := range blocks {
		data = appendWords(data, b.model, b.left, b.right, b.top, b.bottom)
		if colorCode {
			data = appendWords(data, uint16(b.angle))
		}
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(data)/2))
	return append(out, data...)
}

func typeHint(code uint32) []byte {
	out := []byte{inter.TagTypeHint}
	return binary.LittleEndian.AppendUint32(out, code)
}

func reportHeader() []byte {
	return appendWords([]byte{0x00}, inter.FrameWidth, inter.FrameHeight)
}

func ccb1Payload(blocks []rawBlock) []byte {
	p := append(typeHint(inter.FormatCCB1), reportHeader()...)
	return append(p, section(blocks, false)...)
}

func ccb2Payload(plain, colorCoded []rawBlock) []byte {
	p := append(typeHint(inter.FormatCCB2), reportHeader()...)
	p = append(p, section(plain, false)...)
	return append(p, section(colorCoded, true)...)
}

func ba81Payload(fill byte) []byte {
	p := append(typeHint(inter.FormatBA81), reportHeader()...)
	p = binary.LittleEndian.AppendUint32(p, inter.FrameSize)
	pixels := make([]byte, inter.FrameSize)
	for i := range pixels {
		pixels[i] = fill
	}
	return append(p, pixels...)
}

// numbered 生成 n 条签名依次为 from, from+1, ... 的记录
func numbered(from, n int) []rawBlock {
	out := make([]rawBlock, n)
	for i := range out {
		out[i] = rawBlock{model: uint16(from + i), left: 0, right: 2, top: 0, bottom: 2}
	}
	return out
}

// =============================================================================
// 假引擎与假链路
// =============================================================================

type fakeLink struct {
	closed atomic.Int32
}

func (l *fakeLink) Send(data []byte, _ time.Duration) (int, error) { return len(data), nil }
func (l *fakeLink) Receive(_ []byte, _ time.Duration) (int, error) { return 0, nil }
func (l *fakeLink) Close() error {
	l.closed.Add(1)
	return nil
}

type fakeEngine struct {
	mu           sync.Mutex
	dispatch     inter.DispatchFunc
	procs        map[string]inter.ProcID
	resolveCalls map[string]int
	syncCalls    int
	asyncCalls   int
	syncResp     inter.Response
	syncErr      error
	asyncErr     error
	stepErr      error

	inbox  chan []byte
	steps  atomic.Int64
	closed atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		procs: map[string]inter.ProcID{
			inter.ProcGetFrame: 1,
			inter.ProcGetUID:   2,
			"led_set":          3,
		},
		resolveCalls: make(map[string]int),
		inbox:        make(chan []byte, 16),
	}
}

func (e *fakeEngine) factory(_ inter.TransportLink, dispatch inter.DispatchFunc) (inter.RpcEngine, error) {
	e.mu.Lock()
	e.dispatch = dispatch
	e.mu.Unlock()
	return e, nil
}

func (e *fakeEngine) ResolveProcedure(name string) (inter.ProcID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolveCalls[name]++
	id, ok := e.procs[name]
	if !ok {
		return 0, errors.New("no such procedure")
	}
	return id, nil
}

func (e *fakeEngine) CallSync(_ inter.ProcID, _ []inter.Arg) (inter.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncCalls++
	return e.syncResp, e.syncErr
}

func (e *fakeEngine) CallAsync(_ inter.ProcID, _ []inter.Arg) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asyncCalls++
	return e.asyncErr
}

func (e *fakeEngine) ServiceStep(_ bool) (bool, error) {
	e.steps.Add(1)
	select {
	case p := <-e.inbox:
		e.mu.Lock()
		dispatch := e.dispatch
		e.mu.Unlock()
		dispatch(p)
		return true, nil
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return false, e.stepErr
}

func (e *fakeEngine) Close() error {
	e.closed.Add(1)
	return nil
}

func (e *fakeEngine) resolves(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveCalls[name]
}
