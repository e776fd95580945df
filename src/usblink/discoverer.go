package usblink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/nhirsama/goster-pixy/src/inter"
)

const (
	configNumber = 1
	endpointOut  = 0x02
	endpointIn   = 0x82
)

// Options USB 发现参数
type Options struct {
	VendorID  uint16
	ProductID uint16
	// Timeout 链路上 0 超时对应的默认值
	Timeout time.Duration
}

// Discoverer 按 VID/PID 查找传感器，实现 inter.Discoverer
type Discoverer struct {
	ctx  *gousb.Context
	opts Options
}

// NewDiscoverer 初始化 libusb 上下文
func NewDiscoverer(opts Options) *Discoverer {
	if opts.VendorID == 0 {
		opts.VendorID = inter.VendorID
	}
	if opts.ProductID == 0 {
		opts.ProductID = inter.ProductID
	}
	return &Discoverer{ctx: gousb.NewContext(), opts: opts}
}

// Discover 打开全部匹配的设备并包装为候选设备
// gousb 只能在遍历时打开设备，所以返回的候选设备已持有句柄，不接入的候选需要 Release
func (d *Discoverer) Discover(_ context.Context) ([]inter.DeviceCandidate, error) {
	devs, err := d.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(d.opts.VendorID) && desc.Product == gousb.ID(d.opts.ProductID)
	})

	out := make([]inter.DeviceCandidate, 0, len(devs))
	for _, dev := range devs {
		out = append(out, &Candidate{dev: dev, timeout: d.opts.Timeout})
	}

	if err != nil {
		// 部分设备打开失败时仍返回已打开的设备
		log.Printf("USB: 打开部分设备失败: %v", err)
		if len(out) == 0 {
			return nil, mapError("open devices", err)
		}
	}
	return out, nil
}

func (d *Discoverer) Close() error {
	return d.ctx.Close()
}

// Candidate 一台已打开句柄、尚未完成配置的设备
type Candidate struct {
	mu      sync.Mutex
	dev     *gousb.Device
	cfg     *gousb.Config
	intfs   []*gousb.Interface
	timeout time.Duration
}

func (c *Candidate) Describe() string {
	if c.dev == nil || c.dev.Desc == nil {
		return "usb:?"
	}
	return fmt.Sprintf("usb:%d.%d (%s:%s)", c.dev.Desc.Bus, c.dev.Desc.Address, c.dev.Desc.Vendor, c.dev.Desc.Product)
}

func (c *Candidate) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return fmt.Errorf("usb: 句柄已释放: %w", inter.ErrUsbNoDevice)
	}
	return mapError("auto detach", c.dev.SetAutoDetach(true))
}

func (c *Candidate) Configure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev == nil {
		return fmt.Errorf("usb: 句柄已释放: %w", inter.ErrUsbNoDevice)
	}
	cfg, err := c.dev.Config(configNumber)
	if err != nil {
		return mapError("set configuration", err)
	}
	c.cfg = cfg
	return nil
}

// ClaimInterfaces 声明接口 0 与接口 1 (备用设置 0)
func (c *Candidate) ClaimInterfaces() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil {
		return fmt.Errorf("usb: 未配置: %w", inter.ErrUsbIO)
	}
	for _, num := range []int{0, 1} {
		intf, err := c.cfg.Interface(num, 0)
		if err != nil {
			return mapError(fmt.Sprintf("claim interface %d", num), err)
		}
		c.intfs = append(c.intfs, intf)
	}
	return nil
}

func (c *Candidate) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return fmt.Errorf("usb: 句柄已释放: %w", inter.ErrUsbNoDevice)
	}
	return mapError("reset", c.dev.Reset())
}

// Link 在已声明的接口中查找 bulk 端点
func (c *Candidate) Link() (inter.TransportLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := &Link{cand: c, fallback: c.timeout}
	for _, intf := range c.intfs {
		if _, ok := intf.Setting.Endpoints[gousb.EndpointAddress(endpointOut)]; ok && l.out == nil {
			ep, err := intf.OutEndpoint(endpointOut)
			if err != nil {
				return nil, mapError("out endpoint", err)
			}
			l.out = ep
		}
		if _, ok := intf.Setting.Endpoints[gousb.EndpointAddress(endpointIn)]; ok && l.in == nil {
			ep, err := intf.InEndpoint(endpointIn & 0x0F)
			if err != nil {
				return nil, mapError("in endpoint", err)
			}
			l.in = ep
		}
	}
	if l.out == nil || l.in == nil {
		return nil, fmt.Errorf("usb: 未找到 bulk 端点: %w", inter.ErrUsbNotFound)
	}
	return l, nil
}

// Release 按获取的逆序释放资源，可重复调用
func (c *Candidate) Release() {
	if err := c.release(); err != nil {
		log.Printf("USB: 释放 %s: %v", c.Describe(), err)
	}
}

func (c *Candidate) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.intfs) - 1; i >= 0; i-- {
		c.intfs[i].Close()
	}
	c.intfs = nil

	if c.cfg != nil {
		errs = append(errs, c.cfg.Close())
		c.cfg = nil
	}
	if c.dev != nil {
		errs = append(errs, c.dev.Close())
		c.dev = nil
	}
	return errors.Join(errs...)
}
