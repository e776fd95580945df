package session

import (
	"sync"
	"sync/atomic"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// DetectionBuffer 固定容量的检测环形缓冲区
// 写满后先丢弃最早的一条再写入最新的一条 (FIFO)
type DetectionBuffer struct {
	mu     sync.Mutex
	blocks []inter.Detection
	head   int // 最早一条的位置
	count  int

	// fresh 在每次解码后置位，每次读取后清除
	fresh atomic.Bool
}

// NewDetectionBuffer 创建容量为 capacity 的缓冲区
func NewDetectionBuffer(capacity int) *DetectionBuffer {
	if capacity <= 0 {
		capacity = inter.DefaultBlockCapacity
	}
	return &DetectionBuffer{
		blocks: make([]inter.Detection, capacity),
	}
}

// Capacity 返回固定容量
func (b *DetectionBuffer) Capacity() int {
	return len(b.blocks)
}

// Len 返回当前条数
func (b *DetectionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Fresh 返回新鲜标志，不阻塞也不修改
func (b *DetectionBuffer) Fresh() bool {
	return b.fresh.Load()
}

// recordGroup 一段同类型的线上记录
type recordGroup struct {
	kind inter.BlockType
	data []byte
}

// Ingest 在缓冲区锁内写入一次报告
// reset 为 true 时先清空缓冲区；各组按给定顺序、组内按线上顺序追加
func (b *DetectionBuffer) Ingest(reset bool, groups ...recordGroup) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reset {
		b.head = 0
		b.count = 0
	}

	for _, g := range groups {
		stride := recordStride(g.kind)
		for off := 0; off+stride <= len(g.data); off += stride {
			b.appendLocked(decodeRecord(g.kind, g.data[off:off+stride]))
		}
	}

	b.fresh.Store(true)
}

func (b *DetectionBuffer) appendLocked(d inter.Detection) {
	capacity := len(b.blocks)
	if b.count == capacity {
		// 缓冲区已满: 丢弃最早的一条
		b.head = (b.head + 1) % capacity
		b.count--
	}
	b.blocks[(b.head+b.count)%capacity] = d
	b.count++
}

// Drain 按从旧到新复制至多 limit 条到 out，返回复制条数
// 无论是否复制到数据，都会清除新鲜标志
func (b *DetectionBuffer) Drain(limit int, out []inter.Detection) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit < n {
		n = limit
	}
	if len(out) < n {
		n = len(out)
	}

	capacity := len(b.blocks)
	for i := 0; i < n; i++ {
		out[i] = b.blocks[(b.head+i)%capacity]
	}

	b.fresh.Store(false)
	return n
}
