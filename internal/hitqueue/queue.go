package hitqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaignkit/pkg/domain"

	"campaignkit/internal/logger"
	"campaignkit/internal/storage/model"
	"campaignkit/internal/storage/repo"
)

// DefaultRetryInterval 重试间隔
const DefaultRetryInterval = 30 * time.Second

// Queue 持久化先进先出队列，单工作协程保证按入队顺序发送
type Queue struct {
	hits     *repo.HitRepo
	proc     *Processor
	interval time.Duration
	log      logger.Logger

	mu        sync.Mutex
	suspended bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQueue 创建队列，interval <= 0 时使用默认重试间隔
func NewQueue(hits *repo.HitRepo, proc *Processor, interval time.Duration, log logger.Logger) *Queue {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Queue{
		hits:     hits,
		proc:     proc,
		interval: interval,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start 启动工作协程
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop 停止工作协程，等待当前记录处理完
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// Enqueue 序列化并持久化一条请求，然后唤醒工作协程
func (q *Queue) Enqueue(ctx context.Context, hit *Hit) error {
	data, err := EncodeHit(hit)
	if err != nil {
		return err
	}
	rec := &model.HitRecord{
		UID:      uuid.New().String(),
		DataJSON: data,
	}
	if err := q.hits.Add(ctx, rec); err != nil {
		return err
	}
	q.log.Debug("上报已入队", "uid", rec.UID, "url", hit.URL)
	q.notify()
	return nil
}

// Suspend 暂停发送，已入队记录保留
func (q *Queue) Suspend() {
	q.mu.Lock()
	q.suspended = true
	q.mu.Unlock()
}

// Resume 恢复发送
func (q *Queue) Resume() {
	q.mu.Lock()
	q.suspended = false
	q.mu.Unlock()
	q.notify()
}

// Clear 清空队列
func (q *Queue) Clear(ctx context.Context) error {
	return q.hits.Clear(ctx)
}

// HandlePrivacyChange 根据隐私状态调整队列行为。
// 拒绝授权时清空并暂停；状态未知时只暂停；授权后恢复。
func (q *Queue) HandlePrivacyChange(ctx context.Context, status domain.PrivacyStatus) {
	switch status {
	case domain.PrivacyOptOut:
		q.Suspend()
		if err := q.Clear(ctx); err != nil {
			q.log.Warn("清空上报队列失败", "error", err)
		}
	case domain.PrivacyUnknown:
		q.Suspend()
	case domain.PrivacyOptIn:
		q.Resume()
	}
}

// Size 当前队列长度
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.hits.Size(ctx)
}

// notify 唤醒工作协程，信号已存在时不阻塞
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// isSuspended 当前是否暂停
func (q *Queue) isSuspended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suspended
}

// worker 单协程循环：取队首、处理、按结果删除或等待重试
func (q *Queue) worker() {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		if q.isSuspended() {
			if !q.waitWake() {
				return
			}
			continue
		}

		head, err := q.hits.Peek(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrRecordNotFound) {
				q.log.Warn("读取上报队列失败", "error", err)
			}
			if !q.waitWake() {
				return
			}
			continue
		}

		if q.proc.ProcessHit(ctx, head.DataJSON) {
			// 需要重试，保留记录并等待间隔
			if !q.sleep(q.interval) {
				return
			}
			continue
		}

		if err := q.hits.Remove(ctx, head.UID); err != nil {
			q.log.Warn("删除已处理上报失败", "uid", head.UID, "error", err)
			if !q.sleep(q.interval) {
				return
			}
		}
	}
}

// waitWake 等待唤醒信号，返回 false 表示收到停止信号
func (q *Queue) waitWake() bool {
	select {
	case <-q.wake:
		return true
	case <-q.stop:
		return false
	}
}

// sleep 可被停止信号打断的等待
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.stop:
		return false
	}
}
