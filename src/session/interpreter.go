package session

import (
	"runtime"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// 连续失败时每隔多少次记录一次日志
const failureLogEvery = 1000

// interpreterLoop 在通道锁内反复执行非阻塞的 ServiceStep，直到收到关闭请求
// 单次失败只记录日志，只有关闭标志能结束循环
func (s *Session) interpreterLoop() {
	defer close(s.done)

	var failures uint64
	for !s.closing.Load() {
		s.chirpMu.Lock()
		_, err := s.engine.ServiceStep(false)
		s.chirpMu.Unlock()

		if err != nil {
			failures++
			if failures%failureLogEvery == 1 {
				s.logf("ServiceStep 失败 (连续 %d 次): %v", failures, err)
			}
		} else {
			failures = 0
		}

		runtime.Gosched()
	}

	s.state.CompareAndSwap(int32(inter.StateRunning), int32(inter.StateClosing))
	s.debugf("解释器线程退出")
}
