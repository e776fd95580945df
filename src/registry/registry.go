package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/nhirsama/goster-pixy/src/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var debug atomic.Bool

// SetDebug 打开或关闭枚举过程的调试日志
func SetDebug(on bool) {
	debug.Store(on)
}

func debugf(format string, args ...interface{}) {
	if debug.Load() {
		log.Printf("Registry: "+format, args...)
	}
}

// Options 注册表参数
type Options struct {
	// Session 每个新会话的构造参数
	Session session.Options
	// SettleDelay 关闭旧会话之后、重新发现设备之前的等待
	SettleDelay time.Duration
}

// Registry 设备标识 -> 会话
//
// Enumerate / CloseAll 持有写锁；按标识的操作只在查找时持有读锁，
// 之后在会话自己的锁下执行。
type Registry struct {
	mu         sync.RWMutex
	sessions   map[uint32]*session.Session
	discoverer inter.Discoverer
	opts       Options
	tracer     trace.Tracer
}

// NewRegistry 创建空注册表
func NewRegistry(d inter.Discoverer, opts Options) *Registry {
	return &Registry{
		sessions:   make(map[uint32]*session.Session),
		discoverer: d,
		opts:       opts,
		tracer:     otel.Tracer("github.com/nhirsama/goster-pixy/registry"),
	}
}

// Enumerate 关闭全部现有会话，重新发现设备并逐个接入
// 单个设备接入失败只记录日志并跳过，返回成功接入的标识
func (r *Registry) Enumerate(ctx context.Context, limit int) ([]uint32, error) {
	if limit < 0 {
		return nil, inter.ErrInvalidParameter
	}

	ctx, span := r.tracer.Start(ctx, "registry.Enumerate", trace.WithAttributes(attribute.Int("pixy.max_devices", limit)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closeAllLocked() > 0 && r.opts.SettleDelay > 0 {
		select {
		case <-time.After(r.opts.SettleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	candidates, err := r.discoverer.Discover(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discover")
		return nil, fmt.Errorf("registry: 发现设备失败: %w", err)
	}

	ids := make([]uint32, 0, len(candidates))
	for i, cand := range candidates {
		if i >= limit {
			// 超出数量的候选设备不再接入
			cand.Release()
			continue
		}

		id, err := r.attach(cand)
		if err != nil {
			log.Printf("Registry: 接入 %s 失败: %v", cand.Describe(), err)
			span.AddEvent("attach failed", trace.WithAttributes(
				attribute.String("pixy.candidate", cand.Describe()),
				attribute.String("error", err.Error()),
			))
			continue
		}
		ids = append(ids, id)
	}

	span.SetAttributes(attribute.Int("pixy.devices", len(ids)))
	log.Printf("Registry: 枚举完成，接入 %d/%d 台设备", len(ids), len(candidates))
	return ids, nil
}

// attach 依次执行 open -> configure -> claim -> reset -> Init -> 握手
// 任一步失败都只回收该候选设备已获得的资源
func (r *Registry) attach(cand inter.DeviceCandidate) (id uint32, err error) {
	// 链路交给会话之前由这里负责释放
	owned := true
	defer func() {
		if owned {
			cand.Release()
		}
	}()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"open", cand.Open},
		{"configure", cand.Configure},
		{"claim", cand.ClaimInterfaces},
		{"reset", cand.Reset},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return 0, fmt.Errorf("%s: %w", step.name, err)
		}
		debugf("%s: %s 完成", cand.Describe(), step.name)
	}

	link, err := cand.Link()
	if err != nil {
		return 0, fmt.Errorf("link: %w", err)
	}

	s := session.NewSession(r.opts.Session)
	if err := s.Init(link); err != nil {
		return 0, fmt.Errorf("init: %w", err)
	}
	// 从此链路归会话所有，Close 时一并关闭
	owned = false

	resp, err := s.CallSync(inter.ProcGetUID)
	if err != nil {
		s.Close()
		return 0, fmt.Errorf("handshake: %w", err)
	}
	uid, ok := resp.Int(0)
	if !ok {
		s.Close()
		return 0, fmt.Errorf("handshake: %w: 响应缺少设备标识", inter.ErrProtocol)
	}

	id = uint32(uid)
	if _, exists := r.sessions[id]; exists {
		s.Close()
		return 0, fmt.Errorf("handshake: 设备标识 0x%08X 重复", id)
	}

	s.SetID(id)
	r.sessions[id] = s
	log.Printf("Registry: 设备 0x%08X 已接入 (%s)", id, cand.Describe())
	return id, nil
}

// CloseAll 关闭并移除全部会话，空注册表上调用无副作用
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAllLocked()
	return nil
}

func (r *Registry) closeAllLocked() int {
	n := len(r.sessions)
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
		debugf("设备 0x%08X 已关闭", id)
	}
	return n
}

// Devices 当前已接入的设备标识 (升序)
func (r *Registry) Devices() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint32, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) lookup(id uint32) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("0x%08X: %w", id, inter.ErrNotFound)
	}
	return s, nil
}

func (r *Registry) GetDetections(id uint32, limit int, out []inter.Detection) (int, error) {
	s, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return s.GetDetections(limit, out)
}

func (r *Registry) DetectionsAreFresh(id uint32) (bool, error) {
	s, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	return s.DetectionsAreFresh(), nil
}

func (r *Registry) RequestFrame(id uint32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return s.RequestFrame()
}

func (r *Registry) GetFrame(id uint32, out []byte) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return s.GetFrame(out)
}

func (r *Registry) ResetFrameWait(id uint32) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.ResetFrameWait()
	return nil
}

// BlockCapacity 设备检测缓冲区的容量
func (r *Registry) BlockCapacity(id uint32) (int, error) {
	s, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return s.BlockCapacity(), nil
}

// CallSync 按名称调用设备端过程，并记录一个 span
func (r *Registry) CallSync(ctx context.Context, id uint32, name string, args ...inter.Arg) (inter.Response, error) {
	_, span := r.tracer.Start(ctx, "registry.CallSync", trace.WithAttributes(
		attribute.String("pixy.device", fmt.Sprintf("0x%08X", id)),
		attribute.String("pixy.procedure", name),
		attribute.Int("pixy.args", len(args)),
	))
	defer span.End()

	s, err := r.lookup(id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		return inter.Response{}, err
	}

	resp, err := s.CallSync(name, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var remote *inter.RemoteError
		if errors.As(err, &remote) {
			span.SetAttributes(attribute.Int("pixy.remote_code", int(remote.Code)))
		}
		return inter.Response{}, err
	}
	return resp, nil
}
