// Package service 装配全部内部组件并对外提供服务层实现
package service

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaignkit/internal/assets"
	"campaignkit/internal/campaign"
	"campaignkit/internal/config"
	"campaignkit/internal/download"
	"campaignkit/internal/engine"
	"campaignkit/internal/hitqueue"
	"campaignkit/internal/logger"
	"campaignkit/internal/messages"
	"campaignkit/internal/rulesdl"
	"campaignkit/internal/state"
	"campaignkit/internal/storage/db"
	storagemodel "campaignkit/internal/storage/model"
	"campaignkit/internal/storage/repo"
	"campaignkit/pkg/domain"
	"campaignkit/pkg/model"
)

const rulesCacheDirName = "rules"

// Svc 服务层实例，组件在 New 中装配完成后只读
type Svc struct {
	st     *state.State
	engine *engine.Engine
	queue  *hitqueue.Queue
	ext    *campaign.Extension
	log    logger.Logger

	mu      sync.Mutex
	started bool
}

// New 装配数据库、仓储、状态、引擎、下载编排器、命中队列与扩展主体
func New(cfg model.CoreConfig, ui messages.UIService, out campaign.EventDispatcher, l logger.Logger) (*Svc, error) {
	if l == nil {
		l = logger.Nop()
	}
	defaults := config.GetDefaultSettings()

	appCfg := config.NewConfig()
	gdb, err := db.New(db.Options{
		Name:     appCfg.Sqlite.Db,
		FullPath: cfg.DatabasePath,
		Prefix:   appCfg.Sqlite.Prefix,
		Logger:   db.NewLogger(l),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, &storagemodel.Setting{}, &storagemodel.HitRecord{}); err != nil {
		return nil, err
	}

	settings := repo.NewSettingsRepo(gdb)
	hits := repo.NewHitRepo(gdb)

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		if cacheDir, err = db.GetDefaultPath(appCfg.Cache.Dir); err != nil {
			return nil, err
		}
	}

	st := state.New()
	eng := engine.New(nil)
	dl := download.New(nil, l)
	cache := assets.NewCache(cacheDir, dl, l)

	rd := rulesdl.New(rulesdl.Config{
		Engine:   eng,
		Client:   dl,
		Assets:   cache,
		Settings: settings,
		CacheDir: filepath.Join(cacheDir, rulesCacheDirName),
		Timeout:  defaults.RequestTimeout,
		Allowed:  func() bool { return st.Snapshot().CanDownloadRules() },
		Logger:   l,
	})

	proc := hitqueue.NewProcessor(&http.Client{}, settings, l)
	queue := hitqueue.NewQueue(hits, proc, defaults.RetryInterval, l)

	ext := campaign.New(campaign.Config{
		State:    st,
		Engine:   eng,
		Rules:    rd,
		Queue:    queue,
		Settings: settings,
		Assets:   cache,
		UI:       ui,
		Out:      out,
		Logger:   l,
	})

	return &Svc{st: st, engine: eng, queue: queue, ext: ext, log: l}, nil
}

// Start 启动命中队列后台发送
func (s *Svc) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.queue.Start()
	s.started = true
	s.log.Info("campaign 服务已启动")
	return nil
}

// Stop 停止后台发送，已入队命中保留在持久化队列中
func (s *Svc) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.queue.Stop()
	s.started = false
	s.log.Info("campaign 服务已停止")
	return nil
}

// HandleEvent 宿主事件入口
func (s *Svc) HandleEvent(ctx context.Context, evt *domain.Event) {
	s.ext.HandleEvent(ctx, evt)
}

// SetLinkageFields 设置个性化关联字段，触发规则重新下载
func (s *Svc) SetLinkageFields(ctx context.Context, fields map[string]string) {
	s.ext.HandleEvent(ctx, &domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeCampaign,
		Source:    domain.EventSourceRequestIdentity,
		Timestamp: time.Now().UnixMilli(),
		Data:      map[string]any{"linkagefields": fields},
	})
}

// ResetLinkageFields 清除关联字段并恢复通用规则
func (s *Svc) ResetLinkageFields(ctx context.Context) {
	s.ext.HandleEvent(ctx, &domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeCampaign,
		Source:    domain.EventSourceRequestReset,
		Timestamp: time.Now().UnixMilli(),
	})
}

// RuleStats 返回规则评估统计
func (s *Svc) RuleStats() model.EngineStats {
	stats := s.engine.GetStats()
	return model.EngineStats{Total: stats.Total, Matched: stats.Matched, ByRule: stats.ByRule}
}

// QueueStats 返回命中队列观测信息
func (s *Svc) QueueStats(ctx context.Context) (model.QueueStats, error) {
	pending, err := s.queue.Size(ctx)
	if err != nil {
		return model.QueueStats{}, err
	}
	return model.QueueStats{Pending: pending}, nil
}
