package main

import (
	"context"
	"io"
	"time"

	"titipanq-admin/common/database"
	commonmqtt "titipanq-admin/common/mqtt"
	commonredis "titipanq-admin/common/redis"
	"titipanq-admin/internal/config"
	"titipanq-admin/internal/journal"
	"titipanq-admin/internal/notify"
	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/registry"
	"titipanq-admin/internal/session"
	"titipanq-admin/internal/store"

	"go.uber.org/zap"
)

// app 一次命令执行所需的依赖，按需懒加载
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	sess   *session.Manager
	client *registry.Client

	cache    store.ListCache
	journal  *journal.Repository
	notifier *notify.Notifier
	previews *photo.PreviewStore

	closers []func()
}

func newApp(cfg *config.Config, logger *zap.Logger, out io.Writer) (*app, error) {
	sess, err := session.NewManager(session.NewFileTokenStore(cfg.Session.File), logger)
	if err != nil {
		return nil, err
	}
	sess.OnLogout(func() {
		logger.Warn("Session expired, please login again")
	})

	client := registry.NewClient(registry.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		RetryCount: cfg.API.RetryCount,
		Role:       cfg.Session.Role,
	}, sess, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		sess:     sess,
		client:   client,
		previews: photo.NewPreviewStore(),
	}, nil
}

// packageCache Redis 未启用或连接失败时退化为 NoopCache
func (a *app) packageCache(ctx context.Context) store.ListCache {
	if a.cache != nil {
		return a.cache
	}
	a.cache = store.NoopCache{}
	if !a.cfg.RedisEnabled {
		return a.cache
	}
	rdb, err := commonredis.Connect(ctx, &a.cfg.Redis, 3*time.Second)
	if err != nil {
		a.logger.Warn("Redis unavailable, package cache disabled", zap.Error(err))
		return a.cache
	}
	a.closers = append(a.closers, func() { _ = commonredis.Close(rdb) })
	a.cache = store.NewPackageCache(store.NewRedisKV(rdb), a.cfg.CacheTTL, a.logger)
	return a.cache
}

// pickupJournal 未启用时返回 nil
func (a *app) pickupJournal(ctx context.Context) *journal.Repository {
	if a.journal != nil || !a.cfg.JournalEnabled {
		return a.journal
	}
	db, err := database.NewPostgresDB(&a.cfg.Database)
	if err != nil {
		a.logger.Warn("Journal database unavailable", zap.Error(err))
		return nil
	}
	repo := journal.NewRepository(db, a.logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		a.logger.Warn("Failed to prepare pickup_journal", zap.Error(err))
		_ = database.Close(db)
		return nil
	}
	a.closers = append(a.closers, func() { _ = database.Close(db) })
	a.journal = repo
	return repo
}

func (a *app) recorder(ctx context.Context) journal.Recorder {
	if repo := a.pickupJournal(ctx); repo != nil {
		return repo
	}
	return journal.Noop{}
}

// eventNotifier MQTT 未启用时事件只记日志
func (a *app) eventNotifier() *notify.Notifier {
	if a.notifier != nil {
		return a.notifier
	}
	var pub notify.Publisher
	if a.cfg.MQTTEnabled {
		c, err := commonmqtt.NewClient(&a.cfg.MQTT, a.logger)
		if err != nil {
			a.logger.Warn("MQTT unavailable, pickup events disabled", zap.Error(err))
		} else {
			pub = c
			a.closers = append(a.closers, c.Disconnect)
		}
	}
	a.notifier = notify.NewNotifier(pub, a.cfg.MQTT.Topic, a.logger)
	a.notifier.SetQoS(a.cfg.MQTT.QoS)
	return a.notifier
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// requireJournal journal 子命令需要数据库
func (a *app) requireJournal(ctx context.Context) (*journal.Repository, error) {
	repo := a.pickupJournal(ctx)
	if repo == nil {
		return nil, errJournalDisabled
	}
	return repo, nil
}
