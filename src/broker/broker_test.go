package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func sampleBatch() inter.DetectionBatch {
	return inter.DetectionBatch{
		ID:         "b-1",
		DeviceID:   0xCAFE,
		CapturedAt: time.UnixMilli(1234),
		Detections: []inter.Detection{
			{Type: inter.BlockColorCode, Signature: 10, X: 5, Y: 6, Width: 4, Height: 4, Angle: 90},
			{Type: inter.BlockNormal, Signature: 2, X: 50, Y: 60, Width: 20, Height: 10},
			{Type: inter.BlockNormal, Signature: 3, X: 1, Y: 1, Width: 2, Height: 2},
		},
	}
}

func TestNatsPublisher(t *testing.T) {
	fp := &fakePublisher{}
	p := NewNatsPublisher(fp)

	require.NoError(t, p.SaveBatch(sampleBatch()))
	require.Len(t, fp.msgs, 2)
	assert.Equal(t, "pixy.0000cafe.blocks", fp.msgs[0].subject)
	assert.Equal(t, SubjectAll, fp.msgs[1].subject)

	var got inter.DetectionBatch
	require.NoError(t, json.Unmarshal(fp.msgs[0].data, &got))
	assert.Equal(t, uint32(0xCAFE), got.DeviceID)
	assert.Len(t, got.Detections, 3)
	assert.Equal(t, int16(90), got.Detections[0].Angle)
}

func TestNatsPublisher_Error(t *testing.T) {
	p := NewNatsPublisher(&fakePublisher{err: errors.New("nats: connection closed")})
	assert.Error(t, p.SaveBatch(sampleBatch()))
}

func TestShadowFields(t *testing.T) {
	f := shadowFields(sampleBatch())
	assert.Equal(t, 3, f["count"])
	assert.Equal(t, 2, f["plain"])
	assert.Equal(t, 1, f["coded"])
	assert.Equal(t, uint16(50), f["x"])
	assert.Equal(t, uint16(2), f["sig"])
	assert.Equal(t, int64(1234), f["ts"])

	empty := shadowFields(inter.DetectionBatch{DeviceID: 1})
	assert.Equal(t, 0, empty["count"])
	assert.Equal(t, 0, empty["x"])
	assert.Equal(t, "pixy:shadow:00000001", ShadowKey(1))
}

// 指向无人监听的端口，所有命令都会失败
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "127.0.0.1:1", 0)
	assert.Error(t, err)
}

func TestRedisShadow_Error(t *testing.T) {
	shadow := NewRedisShadow(unreachableRedis(t), time.Second)

	err := shadow.SaveBatch(sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ShadowKey(0xCAFE))

	err = shadow.Forget(context.Background(), 0xCAFE)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ShadowKey(0xCAFE))
}

func TestRedisShadow_Interfaces(t *testing.T) {
	var shadow interface{} = NewRedisShadow(unreachableRedis(t), 0)
	_, isSink := shadow.(inter.DetectionSink)
	_, isForgetter := shadow.(inter.DeviceForgetter)
	assert.True(t, isSink)
	assert.True(t, isForgetter)
}
