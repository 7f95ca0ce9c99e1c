// Package scheduler 定时任务：触发 registry 过期检查、预热包裹列表缓存
package scheduler

import (
	"context"
	"fmt"
	"time"

	"titipanq-admin/internal/models"
	"titipanq-admin/internal/notify"
	"titipanq-admin/internal/registry"
	"titipanq-admin/internal/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultExpireSpec 与 registry 端每日过期任务一致
const DefaultExpireSpec = "@daily"

const jobTimeout = 2 * time.Minute

// Registry 调度器需要的 registry 操作
type Registry interface {
	TriggerExpire(ctx context.Context) (registry.ExpireResult, error)
	ListAllPackages(ctx context.Context) ([]models.Package, error)
}

// Config 调度配置；WarmSpec 为空时不预热缓存
type Config struct {
	ExpireSpec string
	WarmSpec   string
}

// EventPublisher 过期事件的发送端
type EventPublisher interface {
	Publish(ev notify.PickupEvent) error
}

// Scheduler cron 封装
type Scheduler struct {
	cron   *cron.Cron
	reg    Registry
	cache  store.ListCache
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// New 注册任务但不启动
func New(cfg Config, reg Registry, cache store.ListCache, logger *zap.Logger) (*Scheduler, error) {
	if cache == nil {
		cache = store.NoopCache{}
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		reg:    reg,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}

	spec := cfg.ExpireSpec
	if spec == "" {
		spec = DefaultExpireSpec
	}
	if _, err := s.cron.AddFunc(spec, s.job("expire", s.RunExpire)); err != nil {
		return nil, fmt.Errorf("failed to schedule expire job %q: %w", spec, err)
	}
	if cfg.WarmSpec != "" {
		if _, err := s.cron.AddFunc(cfg.WarmSpec, s.job("warm", s.RunWarm)); err != nil {
			return nil, fmt.Errorf("failed to schedule warm job %q: %w", cfg.WarmSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) job(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.logger.Info("Starting cron job", zap.String("job", name))
		if err := run(ctx); err != nil {
			s.logger.Error("Cron job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// SetEvents 设置后 RunExpire 会为本次过期的包裹发送 package.expired 事件
func (s *Scheduler) SetEvents(pub EventPublisher) {
	s.events = pub
}

// Start 启动 cron
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop 停止并等待正在执行的任务
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

// Entries 已注册任务数
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunExpire 触发一次过期；有包裹过期时清空列表缓存
func (s *Scheduler) RunExpire(ctx context.Context) error {
	var before map[string]bool
	if s.events != nil {
		pkgs, err := s.reg.ListAllPackages(ctx)
		if err != nil {
			return fmt.Errorf("load packages: %w", err)
		}
		before = receivedIDs(pkgs)
	}

	res, err := s.reg.TriggerExpire(ctx)
	if err != nil {
		return fmt.Errorf("trigger expire: %w", err)
	}
	s.logger.Info("Expire triggered", zap.Int("expired", res.Expired))
	if res.Expired == 0 {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate package cache: %w", err)
	}
	if s.events != nil {
		s.publishExpired(ctx, before)
	}
	return nil
}

// publishExpired 对比触发前后的状态，只通知本次 received -> expired 的包裹
func (s *Scheduler) publishExpired(ctx context.Context, before map[string]bool) {
	pkgs, err := s.reg.ListAllPackages(ctx)
	if err != nil {
		s.logger.Warn("Failed to load expired packages", zap.Error(err))
		return
	}
	var expired []models.Package
	for _, p := range pkgs {
		if p.Status == models.StatusExpired && before[p.ID] {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return
	}
	if err := s.events.Publish(notify.Expired(expired, s.now())); err != nil {
		s.logger.Warn("Failed to publish expired event", zap.Error(err))
	}
}

func receivedIDs(pkgs []models.Package) map[string]bool {
	out := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		if p.Status == models.StatusReceived {
			out[p.ID] = true
		}
	}
	return out
}

// RunWarm 重新拉取完整列表写入缓存
func (s *Scheduler) RunWarm(ctx context.Context) error {
	pkgs, err := s.reg.ListAllPackages(ctx)
	if err != nil {
		return fmt.Errorf("load packages: %w", err)
	}
	if err := s.cache.PutPackages(ctx, "all", pkgs); err != nil {
		return fmt.Errorf("warm package cache: %w", err)
	}
	s.logger.Debug("Package cache warmed", zap.Int("count", len(pkgs)))
	return nil
}
