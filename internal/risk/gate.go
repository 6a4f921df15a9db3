package risk

import (
	"context"
	"encoding/json"

	"paycore/internal/config"
	"paycore/internal/model"
	"paycore/internal/repository"

	"go.uber.org/zap"
)

// Gate 风控闸门，RiskGate 的唯一实现
// 一次 Assess = 合规检查 + 欺诈集成评分，结果逐笔生成、不落账本；
// 无论结论如何，每次评估都会追加一条审计事件
type Gate struct {
	checker    *ComplianceChecker
	ensemble   *Ensemble
	outboxRepo *repository.OutboxRepository
	auditTopic string
	logger     *zap.Logger
}

func NewGate(cfg *config.Config, outboxRepo *repository.OutboxRepository, logger *zap.Logger) *Gate {
	return &Gate{
		checker: NewComplianceChecker(&cfg.Risk),
		ensemble: NewEnsemble(logger,
			NewVelocityStrategy(&cfg.Risk),
			NewBehaviorStrategy(),
			NewNetworkStrategy(),
		),
		outboxRepo: outboxRepo,
		auditTopic: cfg.Kafka.Topic.RiskAudit,
		logger:     logger,
	}
}

// Assess 评估一次候选操作
// 合规报告和风险评分都会返回，准入裁决由调用方（PaymentService）做；
// 审计写入失败只记日志，不影响评估结果
func (g *Gate) Assess(ctx context.Context, op *OperationContext) (*ComplianceReport, *RiskAssessment) {
	report := g.checker.Run(op)
	assessment := g.ensemble.Evaluate(ctx, op)

	g.appendAudit(ctx, op, report, assessment)

	return report, assessment
}

func (g *Gate) appendAudit(ctx context.Context, op *OperationContext, report *ComplianceReport, assessment *RiskAssessment) {
	payload, err := json.Marshal(map[string]interface{}{
		"operation_id":    op.OperationID,
		"user_id":         op.UserID,
		"amount":          op.Amount.String(),
		"currency":        op.Currency,
		"compliance":      report,
		"risk_assessment": assessment,
	})
	if err != nil {
		g.logger.Error("审计事件序列化失败", zap.String("operation_id", op.OperationID), zap.Error(err))
		return
	}

	msg := &model.OutboxMessage{
		MessageKey: op.OperationID,
		Topic:      g.auditTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := g.outboxRepo.Create(ctx, nil, msg); err != nil {
		// 审计是尽力而为，不阻断支付
		g.logger.Error("审计事件写入失败", zap.String("operation_id", op.OperationID), zap.Error(err))
	}
}
