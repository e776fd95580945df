package monitor

import (
	"sync"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// BatchQueue 每台设备一个有界队列，满时丢弃最早的批次
type BatchQueue struct {
	queues   sync.Map // map[uint32]chan inter.DetectionBatch
	capacity int
}

// NewBatchQueue capacity 为每台设备的队列长度
func NewBatchQueue(capacity int) *BatchQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &BatchQueue{capacity: capacity}
}

// Push 入队，返回是否丢弃了最早的一条
func (q *BatchQueue) Push(batch inter.DetectionBatch) (dropped bool) {
	actual, _ := q.queues.LoadOrStore(batch.DeviceID, make(chan inter.DetectionBatch, q.capacity))
	ch := actual.(chan inter.DetectionBatch)

	for {
		select {
		case ch <- batch:
			return dropped
		default:
		}
		// 队列满策略：丢弃最早的一条并压入新批次
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

// Pop 取出设备最早的一条批次
func (q *BatchQueue) Pop(deviceID uint32) (inter.DetectionBatch, bool) {
	actual, exists := q.queues.Load(deviceID)
	if !exists {
		return inter.DetectionBatch{}, false
	}
	select {
	case b := <-actual.(chan inter.DetectionBatch):
		return b, true
	default:
		return inter.DetectionBatch{}, false
	}
}

// Len 设备队列中的批次数
func (q *BatchQueue) Len(deviceID uint32) int {
	actual, exists := q.queues.Load(deviceID)
	if !exists {
		return 0
	}
	return len(actual.(chan inter.DetectionBatch))
}

// Devices 有过队列的设备
func (q *BatchQueue) Devices() []uint32 {
	var ids []uint32
	q.queues.Range(func(key, _ any) bool {
		ids = append(ids, key.(uint32))
		return true
	})
	return ids
}
