package simulator

import (
	"context"
	"fmt"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// 失败注入点
const (
	FailOpen      = "open"
	FailConfigure = "configure"
	FailClaim     = "claim"
	FailReset     = "reset"
	// FailHandshake 链路建立后 getUID 返回错误状态
	FailHandshake = "handshake"
)

// Profile 描述一台模拟设备的行为
type Profile struct {
	UID    uint32
	FailAt string
	Device Options
}

// Discoverer 每次 Discover 都生成全新的模拟设备
type Discoverer struct {
	profiles []Profile
}

// NewDiscoverer 按给定规格创建模拟设备发现器
func NewDiscoverer(profiles ...Profile) *Discoverer {
	return &Discoverer{profiles: profiles}
}

func (s *Discoverer) Discover(_ context.Context) ([]inter.DeviceCandidate, error) {
	out := make([]inter.DeviceCandidate, 0, len(s.profiles))
	for _, profile := range s.profiles {
		out = append(out, NewCandidate(profile))
	}
	return out, nil
}

func (s *Discoverer) Close() error {
	return nil
}

// Candidate 模拟的待接入设备
type Candidate struct {
	Device   *Device
	failAt   string
	Released int
}

// NewCandidate 按规格创建一个候选设备
func NewCandidate(profile Profile) *Candidate {
	dev := NewDevice(profile.UID, profile.Device)
	dev.rejectUID = profile.FailAt == FailHandshake
	return &Candidate{
		Device: dev,
		failAt: profile.FailAt,
	}
}

func (c *Candidate) Describe() string {
	return fmt.Sprintf("sim:0x%08X", c.Device.UID())
}

func (c *Candidate) step(name string) error {
	if c.failAt == name {
		return fmt.Errorf("sim: %s 失败: %w", name, inter.ErrUsbBusy)
	}
	return nil
}

func (c *Candidate) Open() error            { return c.step(FailOpen) }
func (c *Candidate) Configure() error       { return c.step(FailConfigure) }
func (c *Candidate) ClaimInterfaces() error { return c.step(FailClaim) }
func (c *Candidate) Reset() error           { return c.step(FailReset) }

func (c *Candidate) Link() (inter.TransportLink, error) {
	return c.Device, nil
}

func (c *Candidate) Release() {
	c.Released++
}
