package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 GOSTER_PIXY_REGISTRY_MAX_DEVICES
const EnvPrefix = "GOSTER_PIXY"

// Config 运行参数
type Config struct {
	Debug bool

	USB struct {
		VendorID  uint16
		ProductID uint16
		Timeout   time.Duration
		// Simulate 使用内存中的模拟设备代替 USB
		Simulate int
	}

	Registry struct {
		MaxDevices  int
		SettleDelay time.Duration
	}

	Session struct {
		BlockCapacity int
	}

	Protocol struct {
		CallTimeout    time.Duration
		ServiceTimeout time.Duration
	}

	Monitor struct {
		Interval     time.Duration
		GrabFrames   bool
		FrameTimeout time.Duration
	}

	Datastore struct {
		Driver string
		DSN    string
	}

	NATS struct {
		URL string
	}

	Redis struct {
		Addr string
		DB   int
		TTL  time.Duration
	}

	OTel struct {
		Endpoint    string
		ServiceName string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("usb.vendor_id", inter.VendorID)
	v.SetDefault("usb.product_id", inter.ProductID)
	v.SetDefault("usb.timeout", 10*time.Millisecond)
	v.SetDefault("usb.simulate", 0)
	v.SetDefault("registry.max_devices", 4)
	v.SetDefault("registry.settle_delay", 100*time.Millisecond)
	v.SetDefault("session.block_capacity", inter.DefaultBlockCapacity)
	v.SetDefault("protocol.call_timeout", time.Second)
	v.SetDefault("protocol.service_timeout", 10*time.Millisecond)
	v.SetDefault("monitor.interval", 50*time.Millisecond)
	v.SetDefault("monitor.grab_frames", false)
	v.SetDefault("monitor.frame_timeout", 2*time.Second)
	v.SetDefault("datastore.driver", "sqlite")
	v.SetDefault("datastore.dsn", "./pixy.db")
	v.SetDefault("nats.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Second)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "goster-pixy")
}

// Load 读取配置文件 (可选) 与环境变量
// path 为空时在当前目录查找 goster-pixy.yaml，找不到则只使用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goster-pixy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: 读取配置失败: %w", err)
		}
	}

	cfg := &Config{}
	cfg.Debug = v.GetBool("debug")
	cfg.USB.VendorID = uint16(v.GetUint("usb.vendor_id"))
	cfg.USB.ProductID = uint16(v.GetUint("usb.product_id"))
	cfg.USB.Timeout = v.GetDuration("usb.timeout")
	cfg.USB.Simulate = v.GetInt("usb.simulate")
	cfg.Registry.MaxDevices = v.GetInt("registry.max_devices")
	cfg.Registry.SettleDelay = v.GetDuration("registry.settle_delay")
	cfg.Session.BlockCapacity = v.GetInt("session.block_capacity")
	cfg.Protocol.CallTimeout = v.GetDuration("protocol.call_timeout")
	cfg.Protocol.ServiceTimeout = v.GetDuration("protocol.service_timeout")
	cfg.Monitor.Interval = v.GetDuration("monitor.interval")
	cfg.Monitor.GrabFrames = v.GetBool("monitor.grab_frames")
	cfg.Monitor.FrameTimeout = v.GetDuration("monitor.frame_timeout")
	cfg.Datastore.Driver = v.GetString("datastore.driver")
	cfg.Datastore.DSN = v.GetString("datastore.dsn")
	cfg.NATS.URL = v.GetString("nats.url")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.TTL = v.GetDuration("redis.ttl")
	cfg.OTel.Endpoint = v.GetString("otel.endpoint")
	cfg.OTel.ServiceName = v.GetString("otel.service_name")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	var errs []error
	if c.Session.BlockCapacity <= 0 {
		errs = append(errs, fmt.Errorf("session.block_capacity 必须为正数: %d", c.Session.BlockCapacity))
	}
	if c.Registry.MaxDevices <= 0 {
		errs = append(errs, fmt.Errorf("registry.max_devices 必须为正数: %d", c.Registry.MaxDevices))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval 必须为正数: %s", c.Monitor.Interval))
	}
	switch c.Datastore.Driver {
	case "", "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("datastore.driver 不支持: %q", c.Datastore.Driver))
	}
	if c.USB.Simulate < 0 {
		errs = append(errs, fmt.Errorf("usb.simulate 不能为负数: %d", c.USB.Simulate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
