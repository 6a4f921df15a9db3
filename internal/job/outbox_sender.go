package job

import (
	"context"
	"time"

	"paycore/internal/infrastructure/mq"
	"paycore/internal/model"
	"paycore/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// Outbox 消息投递任务
// ============================================================================
//
// 【关键点】事务性发件箱的后半程
//
// 支付结果 / 风控审计事件在业务事务里写进 outbox 表，这里轮询
// PENDING 消息投到 kafka。投递成功置 SENT；失败累加重试次数，
// 超过上限置 FAILED 等人工介入。至少一次投递，消费端自行去重
// ============================================================================

type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	maxRetry   int
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
	stopCh     chan struct{}
}

func NewOutboxSender(db *gorm.DB, maxRetry int, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		maxRetry:   maxRetry,
		interval:   2 * time.Second,
		batchSize:  100,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start 启动轮询，阻塞运行，通常放在独立 goroutine 里
func (j *OutboxSender) Start() {
	j.logger.Info("outbox 投递任务启动",
		zap.Duration("interval", j.interval),
		zap.Int("batch_size", j.batchSize))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			j.logger.Info("outbox 投递任务停止")
			return
		case <-ticker.C:
			j.processPending()
		}
	}
}

func (j *OutboxSender) Stop() {
	close(j.stopCh)
}

func (j *OutboxSender) processPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messages, err := j.outboxRepo.GetPendingMessages(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("查询待发送消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		j.send(ctx, msg)
	}
}

func (j *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) {
	if err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
		j.logger.Error("消息投递失败",
			zap.Int64("message_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Int("retry_count", msg.RetryCount),
			zap.Error(err))

		if msg.RetryCount+1 >= j.maxRetry {
			if err := j.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
				j.logger.Error("标记消息失败态出错", zap.Int64("message_id", msg.ID), zap.Error(err))
			}
			return
		}
		if err := j.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
			j.logger.Error("累加重试次数失败", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	if err := j.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
		// 置 SENT 失败会导致重复投递，消费端按 message_key 去重
		j.logger.Error("更新消息状态失败", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
}
