package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/redis/go-redis/v9"
)

// PresenceKey 在线设备集合
const PresenceKey = "pixy:devices"

// RedisShadow 在 Redis 中维护每台设备的最新状态，实现 inter.DetectionSink 与 inter.DeviceForgetter
type RedisShadow struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisClient 创建客户端并检查连通性
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("broker: 连接 Redis 失败: %w", err)
	}
	return client, nil
}

// NewRedisShadow ttl 为影子键的过期时间
func NewRedisShadow(client *redis.Client, ttl time.Duration) *RedisShadow {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisShadow{client: client, ttl: ttl, timeout: 2 * time.Second}
}

// ShadowKey 设备影子的哈希键
func ShadowKey(deviceID uint32) string {
	return fmt.Sprintf("pixy:shadow:%08x", deviceID)
}

// shadowFields 由一个批次计算影子字段
func shadowFields(batch inter.DetectionBatch) map[string]interface{} {
	fields := map[string]interface{}{
		"batch":  batch.ID,
		"ts":     batch.CapturedAt.UnixMilli(),
		"count":  len(batch.Detections),
		"plain":  0,
		"coded":  0,
		"x":      0,
		"y":      0,
		"width":  0,
		"height": 0,
		"sig":    0,
	}

	var plain, coded int
	var largest *inter.Detection
	for i := range batch.Detections {
		d := &batch.Detections[i]
		if d.Type == inter.BlockColorCode {
			coded++
		} else {
			plain++
		}
		if largest == nil || int(d.Width)*int(d.Height) > int(largest.Width)*int(largest.Height) {
			largest = d
		}
	}
	fields["plain"] = plain
	fields["coded"] = coded

	// 记录面积最大的目标
	if largest != nil {
		fields["x"] = largest.X
		fields["y"] = largest.Y
		fields["width"] = largest.Width
		fields["height"] = largest.Height
		fields["sig"] = largest.Signature
	}
	return fields
}

func (r *RedisShadow) SaveBatch(batch inter.DetectionBatch) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := ShadowKey(batch.DeviceID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, shadowFields(batch))
	pipe.Expire(ctx, key, r.ttl)
	pipe.SAdd(ctx, PresenceKey, fmt.Sprintf("%08x", batch.DeviceID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: 更新影子 %s: %w", key, err)
	}
	return nil
}

// Forget 设备断开后移除影子
func (r *RedisShadow) Forget(ctx context.Context, deviceID uint32) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := ShadowKey(deviceID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, PresenceKey, fmt.Sprintf("%08x", deviceID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: 移除影子 %s: %w", key, err)
	}
	return nil
}
