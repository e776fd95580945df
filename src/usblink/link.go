package usblink

import (
	"context"
	"time"

	"github.com/google/gousb"
)

// DefaultTimeout 调用方传入 0 时使用的超时
const DefaultTimeout = 10 * time.Millisecond

// Link 基于 bulk 端点 (OUT 0x02 / IN 0x82) 的传输链路，实现 inter.TransportLink
type Link struct {
	cand     *Candidate
	out      *gousb.OutEndpoint
	in       *gousb.InEndpoint
	fallback time.Duration
}

func effectiveTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

func (l *Link) Send(data []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), effectiveTimeout(timeout, l.fallback))
	defer cancel()

	n, err := l.out.WriteContext(ctx, data)
	return n, mapError("bulk write", err)
}

func (l *Link) Receive(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), effectiveTimeout(timeout, l.fallback))
	defer cancel()

	n, err := l.in.ReadContext(ctx, buf)
	return n, mapError("bulk read", err)
}

// Close 释放接口、配置与设备句柄
func (l *Link) Close() error {
	return l.cand.release()
}
