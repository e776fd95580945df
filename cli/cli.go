package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhirsama/goster-pixy/src/broker"
	"github.com/nhirsama/goster-pixy/src/config"
	"github.com/nhirsama/goster-pixy/src/datastore"
	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/nhirsama/goster-pixy/src/monitor"
	"github.com/nhirsama/goster-pixy/src/pixy"
	"github.com/nhirsama/goster-pixy/src/protocol"
	"github.com/nhirsama/goster-pixy/src/registry"
	"github.com/nhirsama/goster-pixy/src/session"
	"github.com/nhirsama/goster-pixy/src/simulator"
	"github.com/nhirsama/goster-pixy/src/telemetry"
	"github.com/nhirsama/goster-pixy/src/usblink"
)

func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer func() {
		stop()
		fmt.Println("系统正常关闭")
	}()

	if err := start(ctx, os.Getenv("GOSTER_PIXY_CONFIG")); err != nil {
		log.Printf("启动失败: %v", err)
	}
}

func setDebug(on bool) {
	session.SetDebug(on)
	registry.SetDebug(on)
	protocol.SetDebug(on)
	monitor.SetDebug(on)
}

// newDiscoverer usb.simulate > 0 时使用内存中的模拟设备
func newDiscoverer(cfg *config.Config) inter.Discoverer {
	if cfg.USB.Simulate > 0 {
		profiles := make([]simulator.Profile, cfg.USB.Simulate)
		for i := range profiles {
			profiles[i] = simulator.Profile{
				UID: 0x50000001 + uint32(i),
				Device: simulator.Options{
					ReportInterval:  20 * time.Millisecond,
					PlainBlocks:     3,
					ColorCodeBlocks: 1,
				},
			}
		}
		log.Printf("使用 %d 台模拟设备", len(profiles))
		return simulator.NewDiscoverer(profiles...)
	}
	return usblink.NewDiscoverer(usblink.Options{
		VendorID:  cfg.USB.VendorID,
		ProductID: cfg.USB.ProductID,
		Timeout:   cfg.USB.Timeout,
	})
}

type sinks struct {
	detections []inter.DetectionSink
	frames     []inter.FrameSink
	store      *datastore.Store
	closers    []io.Closer
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Printf("关闭下游失败: %v", err)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func buildSinks(ctx context.Context, cfg *config.Config) (*sinks, error) {
	out := &sinks{}

	if cfg.Datastore.Driver != "" {
		store, err := datastore.Open(cfg.Datastore.Driver, cfg.Datastore.DSN)
		if err != nil {
			return out, err
		}
		out.store = store
		out.detections = append(out.detections, store)
		out.frames = append(out.frames, store)
		out.closers = append(out.closers, store)
	}

	if cfg.NATS.URL != "" {
		nc, err := broker.Connect(cfg.NATS.URL)
		if err != nil {
			return out, err
		}
		log.Printf("已连接 NATS %s", cfg.NATS.URL)
		out.detections = append(out.detections, broker.NewNatsPublisher(nc))
		out.closers = append(out.closers, closerFunc(func() error { nc.Close(); return nil }))
	}

	if cfg.Redis.Addr != "" {
		client, err := broker.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return out, err
		}
		log.Printf("已连接 Redis %s", cfg.Redis.Addr)
		out.detections = append(out.detections, broker.NewRedisShadow(client, cfg.Redis.TTL))
		out.closers = append(out.closers, client)
	}

	return out, nil
}

// describeDevices 打印每台设备的固件版本，并写入运行日志
func describeDevices(ctx context.Context, reg *registry.Registry, store *datastore.Store, ids []uint32) {
	for _, id := range ids {
		var msg string
		ver, err := pixy.New(reg, id).FirmwareVersion(ctx)
		if err != nil {
			msg = fmt.Sprintf("已接入，读取固件版本失败: %s", pixy.ErrorText(inter.ErrorCode(err)))
		} else {
			msg = fmt.Sprintf("已接入，固件版本 %s", ver)
		}
		log.Printf("设备 0x%08X %s", id, msg)
		if store != nil {
			if err := store.WriteLog(id, "INFO", msg); err != nil {
				log.Printf("写入设备日志失败: %v", err)
			}
		}
	}
}

// start 阻塞直到 ctx 结束
func start(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setDebug(cfg.Debug)

	shutdown, err := telemetry.Setup(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	out, err := buildSinks(ctx, cfg)
	defer out.Close()
	if err != nil {
		return err
	}

	discoverer := newDiscoverer(cfg)
	defer discoverer.Close()

	reg := registry.NewRegistry(discoverer, registry.Options{
		Session: session.Options{
			BlockCapacity: cfg.Session.BlockCapacity,
			Factory: protocol.Factory(protocol.Options{
				CallTimeout:    cfg.Protocol.CallTimeout,
				ServiceTimeout: cfg.Protocol.ServiceTimeout,
			}),
		},
		SettleDelay: cfg.Registry.SettleDelay,
	})
	defer reg.CloseAll()

	ids, err := reg.Enumerate(ctx, cfg.Registry.MaxDevices)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.Printf("未找到设备 (VID 0x%04X, PID 0x%04X)", cfg.USB.VendorID, cfg.USB.ProductID)
	}
	describeDevices(ctx, reg, out.store, ids)

	m := monitor.New(reg, monitor.Options{
		Interval:     cfg.Monitor.Interval,
		GrabFrames:   cfg.Monitor.GrabFrames,
		FrameTimeout: cfg.Monitor.FrameTimeout,
	}, out.detections, out.frames)

	return m.Run(ctx)
}
