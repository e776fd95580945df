package pixy

import (
	"context"
	"fmt"
)

// Parameters 相机曝光与白平衡参数快照
type Parameters struct {
	AutoExposure     bool         `json:"auto_exposure"`
	AutoWhiteBalance bool         `json:"auto_white_balance"`
	Exposure         Exposure     `json:"exposure"`
	WhiteBalance     WhiteBalance `json:"white_balance"`
}

// GetParameters 读取当前参数
func (c *Camera) GetParameters(ctx context.Context) (Parameters, error) {
	var p Parameters
	var err error

	if p.AutoExposure, err = c.GetAutoExposureCompensation(ctx); err != nil {
		return p, fmt.Errorf("读取自动曝光: %w", err)
	}
	if p.AutoWhiteBalance, err = c.GetAutoWhiteBalance(ctx); err != nil {
		return p, fmt.Errorf("读取自动白平衡: %w", err)
	}
	if p.Exposure, err = c.GetExposureCompensation(ctx); err != nil {
		return p, fmt.Errorf("读取曝光值: %w", err)
	}
	if p.WhiteBalance, err = c.GetWhiteBalanceValue(ctx); err != nil {
		return p, fmt.Errorf("读取白平衡: %w", err)
	}
	return p, nil
}

// SetParameters 写入参数；手动值只在对应的自动模式关闭时写入
func (c *Camera) SetParameters(ctx context.Context, p Parameters) error {
	if err := c.SetAutoExposureCompensation(ctx, p.AutoExposure); err != nil {
		return fmt.Errorf("设置自动曝光: %w", err)
	}
	if !p.AutoExposure {
		if err := c.SetExposureCompensation(ctx, p.Exposure); err != nil {
			return fmt.Errorf("设置曝光值: %w", err)
		}
	}
	if err := c.SetAutoWhiteBalance(ctx, p.AutoWhiteBalance); err != nil {
		return fmt.Errorf("设置自动白平衡: %w", err)
	}
	if !p.AutoWhiteBalance {
		if err := c.SetWhiteBalanceValue(ctx, p.WhiteBalance); err != nil {
			return fmt.Errorf("设置白平衡: %w", err)
		}
	}
	return nil
}
