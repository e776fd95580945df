package registry

import (
	"context"

	"github.com/nhirsama/goster-pixy/src/inter"
)

// Codes 以整型返回值暴露注册表的公共指令接口，供薄 API 层直接转发
// 负数为 inter.Code* 错误码
type Codes struct {
	R *Registry
}

// Enumerate 返回接入的设备标识；失败时返回空列表
func (c Codes) Enumerate(limit int) []uint32 {
	ids, err := c.R.Enumerate(context.Background(), limit)
	if err != nil {
		return nil
	}
	return ids
}

func (c Codes) CloseAll() int {
	return inter.ErrorCode(c.R.CloseAll())
}

// GetDetections 返回复制的条数，未知设备返回 -1
func (c Codes) GetDetections(id uint32, limit int, out []inter.Detection) int {
	n, err := c.R.GetDetections(id, limit, out)
	if err != nil {
		return inter.ErrorCode(err)
	}
	return n
}

// DetectionsAreFresh 返回 1 / 0，未知设备返回 -1
func (c Codes) DetectionsAreFresh(id uint32) int {
	fresh, err := c.R.DetectionsAreFresh(id)
	if err != nil {
		return inter.ErrorCode(err)
	}
	if fresh {
		return 1
	}
	return 0
}

func (c Codes) RequestFrame(id uint32) int {
	return inter.ErrorCode(c.R.RequestFrame(id))
}

func (c Codes) GetFrame(id uint32, out []byte) int {
	return inter.ErrorCode(c.R.GetFrame(id, out))
}

func (c Codes) ResetFrameWait(id uint32) int {
	return inter.ErrorCode(c.R.ResetFrameWait(id))
}

// CallSync 成功时状态为 0
func (c Codes) CallSync(id uint32, name string, args ...inter.Arg) (inter.Response, int) {
	resp, err := c.R.CallSync(context.Background(), id, name, args...)
	return resp, inter.ErrorCode(err)
}
