package monitor_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhirsama/goster-pixy/src/datastore"
	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/nhirsama/goster-pixy/src/monitor"
	"github.com/nhirsama/goster-pixy/src/protocol"
	"github.com/nhirsama/goster-pixy/src/registry"
	"github.com/nhirsama/goster-pixy/src/session"
	"github.com/nhirsama/goster-pixy/src/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 模拟设备 -> 注册表 -> 监视器 -> sqlite
func TestMonitor_EndToEnd(t *testing.T) {
	store, err := datastore.Open(datastore.DriverSQLite, filepath.Join(t.TempDir(), "pixy.db"))
	require.NoError(t, err)
	defer store.Close()

	reg := registry.NewRegistry(simulator.NewDiscoverer(simulator.Profile{
		UID:    0x5A5A,
		Device: simulator.Options{ReportInterval: 5 * time.Millisecond, PlainBlocks: 2, ColorCodeBlocks: 1},
	}), registry.Options{
		Session: session.Options{Factory: protocol.Factory(protocol.Options{
			CallTimeout:    500 * time.Millisecond,
			ServiceTimeout: 2 * time.Millisecond,
		})},
	})
	defer reg.CloseAll()

	_, err = reg.Enumerate(context.Background(), 1)
	require.NoError(t, err)

	m := monitor.New(reg, monitor.Options{Interval: 5 * time.Millisecond, GrabFrames: true},
		[]inter.DetectionSink{store}, []inter.FrameSink{store})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := store.LatestFrame(0x5A5A)
		return err == nil && m.Stats().Batches >= 3
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	dets, err := store.RecentDetections(0x5A5A, 3)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	// 每份报告中颜色编码记录在前
	assert.Equal(t, inter.BlockColorCode, dets[0].Type)

	devs, err := store.ListDevices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, uint32(0x5A5A), devs[0].DeviceID)
}
