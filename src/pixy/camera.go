package pixy

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// Caller 按设备标识调用设备端过程，*registry.Registry 实现了该接口
type Caller interface {
	CallSync(ctx context.Context, id uint32, name string, args ...inter.Arg) (inter.Response, error)
}

// Camera 单台传感器上的类型化指令
type Camera struct {
	caller Caller
	id     uint32
}

// New 绑定到标识为 id 的设备
func New(caller Caller, id uint32) *Camera {
	return &Camera{caller: caller, id: id}
}

// ID 设备标识
func (c *Camera) ID() uint32 {
	return c.id
}

// WhiteBalance 手动白平衡增益
type WhiteBalance struct {
	Red   uint8 `json:"red"`
	Green uint8 `json:"green"`
	Blue  uint8 `json:"blue"`
}

// Exposure 手动曝光设置
type Exposure struct {
	Gain         uint8  `json:"gain"`
	Compensation uint16 `json:"compensation"`
}

// Version 固件版本
type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Build uint16 `json:"build"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
}

// call 返回设备端的第一个返回值
func (c *Camera) call(ctx context.Context, name string, args ...inter.Arg) (int64, inter.Response, error) {
	resp, err := c.caller.CallSync(ctx, c.id, name, args...)
	if err != nil {
		return 0, resp, err
	}
	v, ok := resp.Int(0)
	if !ok {
		return 0, resp, fmt.Errorf("%s: %w: 缺少返回值", name, inter.ErrProtocol)
	}
	return v, resp, nil
}

// set 调用设置类过程，负的返回值视为设备端错误
func (c *Camera) set(ctx context.Context, name string, args ...inter.Arg) error {
	v, _, err := c.call(ctx, name, args...)
	if err != nil {
		return err
	}
	if v < 0 {
		return &inter.RemoteError{Proc: name, Code: int32(v)}
	}
	return nil
}

func (c *Camera) get(ctx context.Context, name string, args ...inter.Arg) (uint32, error) {
	v, _, err := c.call(ctx, name, args...)
	return uint32(v), err
}

func boolArg(on bool) inter.Arg {
	if on {
		return inter.Uint8(1)
	}
	return inter.Uint8(0)
}

// LedSetRGB 设置 LED 颜色
func (c *Camera) LedSetRGB(ctx context.Context, red, green, blue uint8) error {
	rgb := uint32(blue) | uint32(green)<<8 | uint32(red)<<16
	return c.set(ctx, "led_set", inter.Int32(int32(rgb)))
}

func (c *Camera) LedSetMaxCurrent(ctx context.Context, current uint32) error {
	return c.set(ctx, "led_setMaxCurrent", inter.Int32(int32(current)))
}

func (c *Camera) LedGetMaxCurrent(ctx context.Context) (uint32, error) {
	return c.get(ctx, "led_getMaxCurrent")
}

func (c *Camera) SetAutoWhiteBalance(ctx context.Context, enable bool) error {
	return c.set(ctx, "cam_setAWB", boolArg(enable))
}

func (c *Camera) GetAutoWhiteBalance(ctx context.Context) (bool, error) {
	v, err := c.get(ctx, "cam_getAWB")
	return v != 0, err
}

// GetWhiteBalanceValue 线上按 g + r<<8 + b<<16 打包
func (c *Camera) GetWhiteBalanceValue(ctx context.Context) (WhiteBalance, error) {
	v, err := c.get(ctx, "cam_getWBV")
	if err != nil {
		return WhiteBalance{}, err
	}
	return WhiteBalance{
		Green: uint8(v),
		Red:   uint8(v >> 8),
		Blue:  uint8(v >> 16),
	}, nil
}

func (c *Camera) SetWhiteBalanceValue(ctx context.Context, wb WhiteBalance) error {
	packed := uint32(wb.Green) | uint32(wb.Red)<<8 | uint32(wb.Blue)<<16
	return c.set(ctx, "cam_setWBV", inter.Uint32(packed))
}

func (c *Camera) SetAutoExposureCompensation(ctx context.Context, enable bool) error {
	return c.set(ctx, "cam_setAEC", boolArg(enable))
}

func (c *Camera) GetAutoExposureCompensation(ctx context.Context) (bool, error) {
	v, err := c.get(ctx, "cam_getAEC")
	return v != 0, err
}

// SetExposureCompensation 线上按 gain + compensation<<8 打包
func (c *Camera) SetExposureCompensation(ctx context.Context, e Exposure) error {
	packed := uint32(e.Gain) | uint32(e.Compensation)<<8
	return c.set(ctx, "cam_setECV", inter.Uint32(packed))
}

func (c *Camera) GetExposureCompensation(ctx context.Context) (Exposure, error) {
	v, err := c.get(ctx, "cam_getECV")
	if err != nil {
		return Exposure{}, err
	}
	return Exposure{Gain: uint8(v), Compensation: uint16(v >> 8)}, nil
}

func (c *Camera) SetBrightness(ctx context.Context, brightness uint8) error {
	return c.set(ctx, "cam_setBrightness", inter.Uint8(brightness))
}

func (c *Camera) GetBrightness(ctx context.Context) (uint8, error) {
	v, err := c.get(ctx, "cam_getBrightness")
	return uint8(v), err
}

// ServoGetPosition 读取舵机通道位置
func (c *Camera) ServoGetPosition(ctx context.Context, channel uint8) (int, error) {
	v, _, err := c.call(ctx, "rcs_getPos", inter.Uint8(channel))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, &inter.RemoteError{Proc: "rcs_getPos", Code: int32(v)}
	}
	return int(v), nil
}

func (c *Camera) ServoSetPosition(ctx context.Context, channel uint8, position uint16) error {
	return c.set(ctx, "rcs_setPos", inter.Uint8(channel), inter.Int16(int16(position)))
}

func (c *Camera) ServoSetFrequency(ctx context.Context, frequency uint16) error {
	return c.set(ctx, "rcs_setFreq", inter.Uint16(frequency))
}

// FirmwareVersion 第二个返回值是 3 个小端 uint16
func (c *Camera) FirmwareVersion(ctx context.Context) (Version, error) {
	_, resp, err := c.call(ctx, "version")
	if err != nil {
		return Version{}, err
	}
	raw, ok := resp.Bytes(1)
	if !ok || len(raw) < 6 {
		return Version{}, fmt.Errorf("version: %w: 返回值长度 %d", inter.ErrProtocol, len(raw))
	}
	return Version{
		Major: binary.LittleEndian.Uint16(raw[0:]),
		Minor: binary.LittleEndian.Uint16(raw[2:]),
		Build: binary.LittleEndian.Uint16(raw[4:]),
	}, nil
}
