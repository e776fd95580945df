package session

import (
	"sync"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// FrameBuffer 保存最近一帧图像，解码器原地覆盖
type FrameBuffer struct {
	mu     sync.Mutex
	pixels []byte
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{pixels: make([]byte, inter.FrameSize)}
}

// Write 用 pixels 覆盖当前帧，stored 在释放锁之前执行
func (f *FrameBuffer) Write(pixels []byte, stored func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	copy(f.pixels, pixels)
	if stored != nil {
		stored()
	}
}

// Read 复制当前帧到 out，out 长度不得小于 FrameSize
func (f *FrameBuffer) Read(out []byte) {
	f.mu.Lock()
	copy(out, f.pixels)
	f.mu.Unlock()
}
