package api

import (
	"context"

	"campaignkit/internal/campaign"
	"campaignkit/internal/logger"
	"campaignkit/internal/messages"
	"campaignkit/internal/service"
	"campaignkit/pkg/domain"
	"campaignkit/pkg/model"
)

// UIService 宿主提供的消息呈现能力
type UIService = messages.UIService

// EventDispatcher 宿主事件总线回发通道
type EventDispatcher = campaign.EventDispatcher

// Service 服务接口
type Service interface {
	// Start 启动后台命中发送
	Start() error

	// Stop 停止后台命中发送
	Stop() error

	// HandleEvent 投递一个宿主事件
	HandleEvent(ctx context.Context, evt *domain.Event)

	// SetLinkageFields 设置个性化关联字段
	SetLinkageFields(ctx context.Context, fields map[string]string)

	// ResetLinkageFields 清除关联字段
	ResetLinkageFields(ctx context.Context)

	// RuleStats 获取规则评估统计信息
	RuleStats() model.EngineStats

	// QueueStats 获取命中队列统计信息
	QueueStats(ctx context.Context) (model.QueueStats, error)
}

// NewService 创建并返回服务接口实现
func NewService(cfg model.CoreConfig, ui UIService, out EventDispatcher, l logger.Logger) (Service, error) {
	return service.New(cfg, ui, out, l)
}
