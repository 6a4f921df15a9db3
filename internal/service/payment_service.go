package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paycore/internal/config"
	"paycore/internal/infrastructure/lock"
	"paycore/internal/model"
	"paycore/internal/repository"
	"paycore/internal/risk"
	"paycore/internal/saga"
	"paycore/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownPaymentType    = errors.New("未知的支付类型")
	ErrRecipientRequired     = errors.New("转账必须指定收款方")
	ErrTargetCurrencyMissing = errors.New("跨币种转账必须指定目标币种")
	ErrAdmissionRejected     = errors.New("支付准入被拒绝")
)

const (
	lockRetryInterval = 100 * time.Millisecond
	lockMaxRetries    = 3
)

// ============================================================================
// 支付协调器
// ============================================================================
//
// 【核心流程】Execute 是唯一的支付入口，串联三道关卡：
//
//	1. 风控闸门（Gate.Assess）：合规硬拦截 + 欺诈集成评分
//	   - non_compliant / block -> 支付单置 REJECTED，不触达账本
//	   - review -> 软标记 ReviewRequired=true，流程继续
//	2. 限额检查（LimitService.Check）：日/月滚动累计
//	3. 账本记账（LedgerService）：余额变更 + 流水
//
// 【关键点】限额检查、记账、支付单推进、结果事件写 outbox
// 全部在同一个数据库事务里，任何一步失败整体回滚，
// 不存在"扣了钱但支付单停在 EXECUTING"的中间态落地。
//
// 跨币种转账无法用单事务表达（两条账本腿之间隔着取汇率），
// 改走 saga：扣款腿 / 取价腿 / 入账腿，失败倒序补偿。
// ============================================================================

// EdgeSignals 接入层透传的端侧信号，风控策略的输入
// 历史类信号（频次、均值、首次收款人）由协调器从存储现算，不在这里
type EdgeSignals struct {
	KYCVerified        bool   `json:"kyc_verified"`
	AccountAgeDays     int    `json:"account_age_days"`
	RecipientCountry   string `json:"recipient_country"`
	CrossBorder        bool   `json:"cross_border"`
	DeviceKnown        bool   `json:"device_known"`
	GeoMismatch        bool   `json:"geo_mismatch"`
	VPNDetected        bool   `json:"vpn_detected"`
	TorDetected        bool   `json:"tor_detected"`
	ProxyDetected      bool   `json:"proxy_detected"`
	SessionDurationSec int    `json:"session_duration_sec"`
	IPReputationHits   int    `json:"ip_reputation_hits"`
	CountriesAccessed  int    `json:"countries_accessed"`
	UserAgentMismatch  bool   `json:"user_agent_mismatch"`
}

// PaymentRequest 一次支付请求
// RequestID 是调用方幂等键，重复提交返回首次的结果
type PaymentRequest struct {
	RequestID      string          `json:"request_id"`
	UserID         int64           `json:"user_id"`
	RecipientID    *int64          `json:"recipient_id,omitempty"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TargetCurrency string          `json:"target_currency,omitempty"`
	Description    string          `json:"description"`
	Signals        EdgeSignals     `json:"signals"`
}

// PaymentOutcome 支付执行结果
type PaymentOutcome struct {
	PaymentNo      string               `json:"payment_no"`
	Status         string               `json:"status"`
	ReviewRequired bool                 `json:"review_required"`
	RejectReason   string               `json:"reject_reason,omitempty"`
	TransactionNo  string               `json:"transaction_no,omitempty"`
	SagaID         string               `json:"saga_id,omitempty"`
	Duplicate      bool                 `json:"duplicate"`
	Assessment     *risk.RiskAssessment `json:"assessment,omitempty"`
}

// PaymentService 支付协调器
type PaymentService struct {
	db              *gorm.DB
	cfg             *config.Config
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	gate            *risk.Gate
	ledger          *LedgerService
	limits          *LimitService
	orchestrator    *saga.Orchestrator
	rates           RateProvider
	lockFactory     lock.Factory
	logger          *zap.Logger
}

func NewPaymentService(
	db *gorm.DB,
	cfg *config.Config,
	gate *risk.Gate,
	ledger *LedgerService,
	limits *LimitService,
	orchestrator *saga.Orchestrator,
	rates RateProvider,
	lockFactory lock.Factory,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		db:              db,
		cfg:             cfg,
		paymentRepo:     repository.NewPaymentRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		gate:            gate,
		ledger:          ledger,
		limits:          limits,
		orchestrator:    orchestrator,
		rates:           rates,
		lockFactory:     lockFactory,
		logger:          logger,
	}
}

// Execute 执行一次支付
//
// 风控拒绝不是错误：返回 Status=REJECTED 的结果和 ErrAdmissionRejected，
// 调用方据此区分"被拦截"和"执行失败"。限额/余额不足作为错误返回，
// 支付单终态 FAILED
func (s *PaymentService) Execute(ctx context.Context, req *PaymentRequest) (*PaymentOutcome, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch req.Type {
	case model.PaymentTypePayment:
	case model.PaymentTypeTransfer:
		if req.RecipientID == nil {
			return nil, ErrRecipientRequired
		}
	case model.PaymentTypeCrossFX:
		if req.RecipientID == nil {
			return nil, ErrRecipientRequired
		}
		if req.TargetCurrency == "" || req.TargetCurrency == req.Currency {
			return nil, ErrTargetCurrencyMissing
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPaymentType, req.Type)
	}

	// 锁外先查一次幂等，重复提交的大多数在这里就返回了
	if existing, err := s.paymentRepo.GetByRequestID(ctx, req.RequestID); err != nil {
		return nil, fmt.Errorf("幂等查询失败: %w", err)
	} else if existing != nil {
		return s.outcomeFromPayment(existing, true), nil
	}

	// 按用户维度加锁，堵住"查幂等 -> 建支付单"之间的并发窗口
	locker := s.lockFactory(req.UserID, req.RequestID)
	if err := locker.Lock(ctx, lockRetryInterval, lockMaxRetries); err != nil {
		return nil, fmt.Errorf("获取支付锁失败: %w", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			s.logger.Warn("释放支付锁失败",
				zap.Int64("user_id", req.UserID),
				zap.String("request_id", req.RequestID),
				zap.Error(err))
		}
	}()

	// 锁内复查：拿锁前可能已有同 request_id 的请求建了单
	if existing, err := s.paymentRepo.GetByRequestID(ctx, req.RequestID); err != nil {
		return nil, fmt.Errorf("幂等查询失败: %w", err)
	} else if existing != nil {
		return s.outcomeFromPayment(existing, true), nil
	}

	op, err := s.buildOperationContext(ctx, req)
	if err != nil {
		return nil, err
	}
	report, assessment := s.gate.Assess(ctx, op)

	payment := &model.Payment{
		PaymentNo:      idgen.GeneratePaymentNo(),
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		RecipientID:    req.RecipientID,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		TargetCurrency: req.TargetCurrency,
		Status:         model.PaymentStatusCreated,
	}

	// 硬拦截：合规不通过或集成评分 block
	if report.OverallStatus == risk.ComplianceStatusNonCompliant ||
		assessment.Recommendation == risk.RecommendationBlock {
		payment.RejectReason = rejectReason(report, assessment)
		// 建单和置 REJECTED 在同一个事务里，中途崩溃不留 CREATED 残单
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
				return fmt.Errorf("创建支付单失败: %w", err)
			}
			return s.paymentRepo.UpdateStatus(ctx, tx, payment.PaymentNo,
				model.PaymentStatusCreated, model.PaymentStatusRejected, nil)
		})
		if err != nil {
			return nil, err
		}
		payment.Status = model.PaymentStatusRejected

		s.logger.Info("支付准入被拒绝",
			zap.String("payment_no", payment.PaymentNo),
			zap.Int64("user_id", req.UserID),
			zap.String("reason", payment.RejectReason))

		outcome := s.outcomeFromPayment(payment, false)
		outcome.Assessment = assessment
		return outcome, ErrAdmissionRejected
	}

	// 软标记：需要审查但不阻断，进入人工审计名单
	payment.ReviewRequired = report.OverallStatus == risk.ComplianceStatusReviewRequired ||
		assessment.Recommendation == risk.RecommendationReview

	// 建单和推进 EXECUTING 必须原子：CREATED 残单没人认领，
	// GetStuckExecuting 只扫 EXECUTING
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("创建支付单失败: %w", err)
		}
		return s.paymentRepo.UpdateStatus(ctx, tx, payment.PaymentNo,
			model.PaymentStatusCreated, model.PaymentStatusExecuting, nil)
	}); err != nil {
		return nil, err
	}

	if req.Type == model.PaymentTypeCrossFX {
		return s.executeSaga(ctx, req, payment, assessment)
	}
	return s.executeAtomic(ctx, req, payment, assessment)
}

// executeAtomic 单笔扣款 / 同币种转账
// 限额、记账、支付单推进、结果事件在同一个事务里，乐观锁冲突自动重试
func (s *PaymentService) executeAtomic(ctx context.Context, req *PaymentRequest, payment *model.Payment, assessment *risk.RiskAssessment) (*PaymentOutcome, error) {
	var transactionNo string
	var err error

	for attempt := 0; attempt < applyMaxRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if limitErr := s.limits.Check(ctx, tx, req.UserID, req.Amount, req.Currency, time.Now()); limitErr != nil {
				return limitErr
			}

			switch req.Type {
			case model.PaymentTypePayment:
				result, applyErr := s.ledger.ApplyWithin(ctx, tx, &LedgerOperation{
					UserID:         req.UserID,
					CounterpartyID: req.RecipientID,
					Direction:      model.DirectionDebit,
					Amount:         req.Amount,
					Currency:       req.Currency,
					Category:       model.CategoryPayment,
					Description:    req.Description,
					IdempotencyKey: req.RequestID,
				})
				if applyErr != nil {
					return applyErr
				}
				transactionNo = result.TransactionNo
			case model.PaymentTypeTransfer:
				result, transferErr := s.ledger.TransferWithin(ctx, tx, &TransferOperation{
					FromUserID:     req.UserID,
					ToUserID:       *req.RecipientID,
					Amount:         req.Amount,
					Currency:       req.Currency,
					Description:    req.Description,
					IdempotencyKey: req.RequestID,
				})
				if transferErr != nil {
					return transferErr
				}
				transactionNo = result.TransactionNo
			}

			if statusErr := s.paymentRepo.UpdateStatus(ctx, tx, payment.PaymentNo,
				model.PaymentStatusExecuting, model.PaymentStatusCompleted, nil); statusErr != nil {
				return statusErr
			}
			return s.emitResult(ctx, tx, payment, model.PaymentStatusCompleted)
		})
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		s.logger.Warn("支付执行乐观锁冲突，重试",
			zap.String("payment_no", payment.PaymentNo),
			zap.Int("attempt", attempt+1))
	}

	if err != nil {
		s.failPayment(ctx, payment, err)
		return nil, err
	}

	payment.Status = model.PaymentStatusCompleted
	outcome := s.outcomeFromPayment(payment, false)
	outcome.TransactionNo = transactionNo
	outcome.Assessment = assessment

	s.logger.Info("支付执行完成",
		zap.String("payment_no", payment.PaymentNo),
		zap.String("transaction_no", transactionNo),
		zap.Bool("review_required", payment.ReviewRequired))
	return outcome, nil
}

// executeSaga 跨币种转账
//
// 三步：扣付款方（含限额检查）-> 取汇率 -> 按汇率给收款方入账。
// 入账失败时扣款腿的补偿会把钱冲回付款方（REVERSAL 流水），
// 补偿本身失败只记日志，留给对账任务兜底
func (s *PaymentService) executeSaga(ctx context.Context, req *PaymentRequest, payment *model.Payment, assessment *risk.RiskAssessment) (*PaymentOutcome, error) {
	sagaID := idgen.GenerateSagaNo()
	recipientID := *req.RecipientID

	var debitTransactionNo string
	var debitTransactionID int64
	var quote *Quote

	steps := []saga.StepDef{
		{
			Name: "debit_sender",
			Action: func(ctx context.Context) error {
				return s.db.Transaction(func(tx *gorm.DB) error {
					if err := s.limits.Check(ctx, tx, req.UserID, req.Amount, req.Currency, time.Now()); err != nil {
						return err
					}
					result, err := s.ledger.ApplyWithin(ctx, tx, &LedgerOperation{
						UserID:         req.UserID,
						CounterpartyID: req.RecipientID,
						Direction:      model.DirectionDebit,
						Amount:         req.Amount,
						Currency:       req.Currency,
						Category:       model.CategoryConversion,
						Description:    req.Description,
						IdempotencyKey: req.RequestID + ":debit",
					})
					if err != nil {
						return err
					}
					debitTransactionNo = result.TransactionNo
					trans, err := s.transactionRepo.GetCompletedByContentHash(ctx, tx, req.UserID,
						ContentHash(req.UserID, req.Amount, req.Currency, req.RequestID+":debit"))
					if err == nil && trans != nil {
						debitTransactionID = trans.ID
					}
					return nil
				})
			},
			Compensation: func(ctx context.Context) error {
				_, err := s.ledger.Apply(ctx, &LedgerOperation{
					UserID:         req.UserID,
					CounterpartyID: req.RecipientID,
					Direction:      model.DirectionCredit,
					Amount:         req.Amount,
					Currency:       req.Currency,
					Category:       model.CategoryReversal,
					Description:    "跨币种转账冲正",
					IdempotencyKey: req.RequestID + ":debit:reversal",
					ReversalOf:     &debitTransactionID,
				})
				return err
			},
		},
		{
			Name: "fetch_rate",
			Action: func(ctx context.Context) error {
				q, err := s.rates.GetRate(ctx, req.Currency, req.TargetCurrency)
				if err != nil {
					return err
				}
				quote = q
				return nil
			},
			// 纯查询，无需回退
			Compensation: nil,
		},
		{
			Name: "credit_recipient",
			Action: func(ctx context.Context) error {
				if _, err := s.ledger.GetAccount(ctx, recipientID, req.TargetCurrency); err != nil {
					return err
				}
				converted := req.Amount.Mul(quote.Rate).Round(2)
				// 入账腿和支付单上的换汇金额同事务落库：
				// target_amount 可见即入账腿已落账，对账任务靠它重算入账腿哈希
				var err error
				for attempt := 0; attempt < applyMaxRetries; attempt++ {
					err = s.db.Transaction(func(tx *gorm.DB) error {
						if _, applyErr := s.ledger.ApplyWithin(ctx, tx, &LedgerOperation{
							UserID:         recipientID,
							CounterpartyID: &req.UserID,
							Direction:      model.DirectionCredit,
							Amount:         converted,
							Currency:       req.TargetCurrency,
							Category:       model.CategoryConversion,
							Description:    req.Description,
							IdempotencyKey: req.RequestID + ":credit",
						}); applyErr != nil {
							return applyErr
						}
						return s.paymentRepo.SetTargetAmount(ctx, tx, payment.PaymentNo, converted)
					})
					if !errors.Is(err, repository.ErrOptimisticLock) {
						break
					}
				}
				return err
			},
			Compensation: func(ctx context.Context) error {
				converted := req.Amount.Mul(quote.Rate).Round(2)
				_, err := s.ledger.Apply(ctx, &LedgerOperation{
					UserID:         recipientID,
					CounterpartyID: &req.UserID,
					Direction:      model.DirectionDebit,
					Amount:         converted,
					Currency:       req.TargetCurrency,
					Category:       model.CategoryReversal,
					Description:    "跨币种转账冲正",
					IdempotencyKey: req.RequestID + ":credit:reversal",
				})
				return err
			},
		},
	}

	sagaErr := s.orchestrator.Start(ctx, sagaID, steps)

	if sagaErr != nil {
		s.failPayment(ctx, payment, sagaErr)
		payment.SagaID = sagaID
		return nil, sagaErr
	}

	err := s.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo,
		model.PaymentStatusExecuting, model.PaymentStatusCompleted,
		map[string]interface{}{"saga_id": sagaID})
	if err != nil {
		return nil, err
	}
	if err := s.emitResult(ctx, nil, payment, model.PaymentStatusCompleted); err != nil {
		s.logger.Error("写支付结果事件失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
	}

	payment.Status = model.PaymentStatusCompleted
	payment.SagaID = sagaID
	outcome := s.outcomeFromPayment(payment, false)
	outcome.TransactionNo = debitTransactionNo
	outcome.Assessment = assessment

	s.logger.Info("跨币种转账完成",
		zap.String("payment_no", payment.PaymentNo),
		zap.String("saga_id", sagaID),
		zap.String("rate", quote.Rate.String()))
	return outcome, nil
}

// buildOperationContext 备齐风控输入
// 历史类信号从流水现算，端侧信号从请求透传
func (s *PaymentService) buildOperationContext(ctx context.Context, req *PaymentRequest) (*risk.OperationContext, error) {
	now := time.Now()

	hourCount, err := s.transactionRepo.CountByUserSince(ctx, req.UserID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("统计小时操作次数失败: %w", err)
	}
	dayCount, err := s.transactionRepo.CountByUserSince(ctx, req.UserID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("统计24小时操作次数失败: %w", err)
	}
	avgDebit, err := s.transactionRepo.AvgCompletedDebitAmount(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("统计历史出账均值失败: %w", err)
	}

	firstTimeRecipient := false
	if req.RecipientID != nil {
		transfers, err := s.transactionRepo.CountTransfersTo(ctx, req.UserID, *req.RecipientID)
		if err != nil {
			return nil, fmt.Errorf("统计历史转账次数失败: %w", err)
		}
		firstTimeRecipient = transfers == 0
	}

	sig := req.Signals
	return &risk.OperationContext{
		OperationID:      req.RequestID,
		UserID:           req.UserID,
		RecipientID:      req.RecipientID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		RecipientCountry: sig.RecipientCountry,
		CrossBorder:      sig.CrossBorder,
		Timestamp:        now,

		KYCVerified:        sig.KYCVerified,
		AccountAgeDays:     sig.AccountAgeDays,
		TxCountLastHour:    int(hourCount),
		TxCountLast24h:     int(dayCount),
		AvgDebitAmount:     avgDebit,
		FirstTimeRecipient: firstTimeRecipient,

		DeviceKnown:        sig.DeviceKnown,
		GeoMismatch:        sig.GeoMismatch,
		VPNDetected:        sig.VPNDetected,
		TorDetected:        sig.TorDetected,
		ProxyDetected:      sig.ProxyDetected,
		SessionDurationSec: sig.SessionDurationSec,
		IPReputationHits:   sig.IPReputationHits,
		CountriesAccessed:  sig.CountriesAccessed,
		UserAgentMismatch:  sig.UserAgentMismatch,
	}, nil
}

// failPayment 支付单置 FAILED，失败原因截断后落库
func (s *PaymentService) failPayment(ctx context.Context, payment *model.Payment, cause error) {
	reason := cause.Error()
	if len(reason) > 250 {
		reason = reason[:250]
	}
	err := s.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo,
		model.PaymentStatusExecuting, model.PaymentStatusFailed,
		map[string]interface{}{"reject_reason": reason})
	if err != nil {
		s.logger.Error("支付单置失败态出错",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	payment.Status = model.PaymentStatusFailed
	payment.RejectReason = reason

	if err := s.emitResult(ctx, nil, payment, model.PaymentStatusFailed); err != nil {
		s.logger.Error("写支付结果事件失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
	}
}

// emitResult 结果事件写 outbox，由后台任务投递到 kafka
func (s *PaymentService) emitResult(ctx context.Context, tx *gorm.DB, payment *model.Payment, status string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"payment_no":      payment.PaymentNo,
		"request_id":      payment.RequestID,
		"user_id":         payment.UserID,
		"type":            payment.Type,
		"amount":          payment.Amount.String(),
		"currency":        payment.Currency,
		"status":          status,
		"review_required": payment.ReviewRequired,
		"occurred_at":     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: payment.PaymentNo,
		Topic:      s.cfg.Kafka.Topic.PaymentResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (s *PaymentService) outcomeFromPayment(payment *model.Payment, duplicate bool) *PaymentOutcome {
	return &PaymentOutcome{
		PaymentNo:      payment.PaymentNo,
		Status:         payment.Status,
		ReviewRequired: payment.ReviewRequired,
		RejectReason:   payment.RejectReason,
		SagaID:         payment.SagaID,
		Duplicate:      duplicate,
	}
}

// rejectReason 拼装拒绝原因：优先用合规失败项，其次用风险评分
func rejectReason(report *risk.ComplianceReport, assessment *risk.RiskAssessment) string {
	if report.OverallStatus == risk.ComplianceStatusNonCompliant {
		for _, check := range report.Checks {
			if check.Status == risk.CheckStatusFailed {
				return fmt.Sprintf("合规检查不通过[%s]: %s", check.CheckType, check.Details)
			}
		}
		return "合规检查不通过"
	}
	return fmt.Sprintf("风险评分过高: %d (%s)", assessment.OverallScore, assessment.Level)
}

// Assess 风控诊断：只评估不执行
// 走和 Execute 相同的信号拼装路径，但不建支付单、不触达账本
func (s *PaymentService) Assess(ctx context.Context, req *PaymentRequest) (*risk.ComplianceReport, *risk.RiskAssessment, error) {
	op, err := s.buildOperationContext(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	report, assessment := s.gate.Assess(ctx, op)
	return report, assessment, nil
}

// GetPayment 支付单详情
func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*model.Payment, error) {
	return s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
}

// ListPayments 用户支付单分页查询
func (s *PaymentService) ListPayments(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
}

// GetSagaStatus saga 执行快照
func (s *PaymentService) GetSagaStatus(sagaID string) (*saga.Snapshot, error) {
	return s.orchestrator.GetStatus(sagaID)
}
