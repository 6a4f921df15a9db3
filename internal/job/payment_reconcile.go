package job

import (
	"context"
	"time"

	"paycore/internal/model"
	"paycore/internal/repository"
	"paycore/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 支付单对账任务
// ============================================================================
//
// 进程在"账本已提交、支付单还没推进到终态"的窗口里崩溃时，
// 支付单会停在 EXECUTING。这里定期扫出停留超时的单子，
// 拿支付单参数重算 content_hash 去账本查流水，按腿核对：
//
//   - 单账户扣款 / 同币种转账只有一条腿，查得到补推 COMPLETED，
//     查不到说明没动过钱，置 FAILED
//   - 跨币种转账要扣款腿和入账腿都在才算完成；只有扣款腿说明
//     崩在 saga 中途，先把扣款冲回再置 FAILED
//
// 账本流水是唯一事实来源，支付单只是向它对齐
// ============================================================================

type PaymentReconciler struct {
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	ledger          *service.LedgerService
	expireAfter     time.Duration
	interval        time.Duration
	batchSize       int
	logger          *zap.Logger
	stopCh          chan struct{}
}

func NewPaymentReconciler(db *gorm.DB, expireMinutes int, logger *zap.Logger) *PaymentReconciler {
	return &PaymentReconciler{
		paymentRepo:     repository.NewPaymentRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		ledger:          service.NewLedgerService(db, logger),
		expireAfter:     time.Duration(expireMinutes) * time.Minute,
		interval:        time.Minute,
		batchSize:       100,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// Start 启动轮询，阻塞运行
func (j *PaymentReconciler) Start() {
	j.logger.Info("支付单对账任务启动",
		zap.Duration("expire_after", j.expireAfter),
		zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			j.logger.Info("支付单对账任务停止")
			return
		case <-ticker.C:
			j.reconcileStuck()
		}
	}
}

func (j *PaymentReconciler) Stop() {
	close(j.stopCh)
}

func (j *PaymentReconciler) reconcileStuck() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.expireAfter)

	// 建单和推进 EXECUTING 是原子的，CREATED 残单只可能来自
	// 历史写入方异常，先推进再走正常对账
	created, err := j.paymentRepo.GetStuckCreated(ctx, cutoff, j.batchSize)
	if err != nil {
		j.logger.Error("查询滞留未推进支付单失败", zap.Error(err))
		return
	}
	for _, payment := range created {
		if err := j.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo,
			model.PaymentStatusCreated, model.PaymentStatusExecuting, nil); err != nil {
			j.logger.Error("推进滞留支付单失败",
				zap.String("payment_no", payment.PaymentNo), zap.Error(err))
			continue
		}
		j.reconcileOne(ctx, payment)
	}

	payments, err := j.paymentRepo.GetStuckExecuting(ctx, cutoff, j.batchSize)
	if err != nil {
		j.logger.Error("查询滞留支付单失败", zap.Error(err))
		return
	}
	for _, payment := range payments {
		j.reconcileOne(ctx, payment)
	}
}

func (j *PaymentReconciler) reconcileOne(ctx context.Context, payment *model.Payment) {
	if payment.Type == model.PaymentTypeCrossFX {
		j.reconcileCrossFX(ctx, payment)
		return
	}

	contentHash := service.ContentHash(payment.UserID, payment.Amount, payment.Currency, payment.RequestID)
	trans, err := j.transactionRepo.GetCompletedByContentHash(ctx, nil, payment.UserID, contentHash)
	if err != nil {
		j.logger.Error("对账查询流水失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}

	if trans != nil {
		j.markCompleted(ctx, payment, trans.TransactionNo)
		return
	}
	j.markFailed(ctx, payment, "执行超时，账本无对应流水")
}

// reconcileCrossFX 跨币种转账按腿核对
//
// 扣款腿和入账腿都在才能算完成；只有扣款腿说明崩在取汇率或入账
// 之前，钱扣了没到账，这时先把扣款冲回（幂等，和 saga 补偿共用
// 幂等键）再置 FAILED。已有冲正流水的直接置 FAILED
func (j *PaymentReconciler) reconcileCrossFX(ctx context.Context, payment *model.Payment) {
	debitHash := service.ContentHash(payment.UserID, payment.Amount, payment.Currency,
		payment.RequestID+":debit")
	debit, err := j.transactionRepo.GetCompletedByContentHash(ctx, nil, payment.UserID, debitHash)
	if err != nil {
		j.logger.Error("对账查询扣款腿失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	if debit == nil {
		j.markFailed(ctx, payment, "执行超时，账本无对应流水")
		return
	}

	reversalHash := service.ContentHash(payment.UserID, payment.Amount, payment.Currency,
		payment.RequestID+":debit:reversal")
	reversal, err := j.transactionRepo.GetCompletedByContentHash(ctx, nil, payment.UserID, reversalHash)
	if err != nil {
		j.logger.Error("对账查询冲正流水失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	if reversal != nil {
		j.markFailed(ctx, payment, "跨币种入账未完成，扣款已冲正")
		return
	}

	// target_amount 和入账腿同事务写入，它可见等价于入账腿已落账
	if payment.TargetAmount.Valid && payment.RecipientID != nil {
		creditHash := service.ContentHash(*payment.RecipientID, payment.TargetAmount.Decimal,
			payment.TargetCurrency, payment.RequestID+":credit")
		credit, err := j.transactionRepo.GetCompletedByContentHash(ctx, nil, *payment.RecipientID, creditHash)
		if err != nil {
			j.logger.Error("对账查询入账腿失败",
				zap.String("payment_no", payment.PaymentNo), zap.Error(err))
			return
		}
		if credit != nil {
			j.markCompleted(ctx, payment, debit.TransactionNo)
			return
		}
	}

	// 扣款腿孤悬：冲回付款方，失败留给下一轮重试
	_, err = j.ledger.Apply(ctx, &service.LedgerOperation{
		UserID:         payment.UserID,
		CounterpartyID: payment.RecipientID,
		Direction:      model.DirectionCredit,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Category:       model.CategoryReversal,
		Description:    "跨币种转账冲正",
		IdempotencyKey: payment.RequestID + ":debit:reversal",
		ReversalOf:     &debit.ID,
	})
	if err != nil {
		j.logger.Error("对账冲正扣款腿失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	j.markFailed(ctx, payment, "跨币种入账未完成，扣款已冲正")
}

func (j *PaymentReconciler) markCompleted(ctx context.Context, payment *model.Payment, transactionNo string) {
	err := j.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo,
		model.PaymentStatusExecuting, model.PaymentStatusCompleted, nil)
	if err != nil {
		j.logger.Error("补推支付单完成态失败",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	j.logger.Info("对账补推支付单为完成",
		zap.String("payment_no", payment.PaymentNo),
		zap.String("transaction_no", transactionNo))
}

func (j *PaymentReconciler) markFailed(ctx context.Context, payment *model.Payment, reason string) {
	err := j.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo,
		model.PaymentStatusExecuting, model.PaymentStatusFailed,
		map[string]interface{}{"reject_reason": reason})
	if err != nil {
		j.logger.Error("支付单置失败态出错",
			zap.String("payment_no", payment.PaymentNo), zap.Error(err))
		return
	}
	j.logger.Warn("对账将滞留支付单置为失败",
		zap.String("payment_no", payment.PaymentNo),
		zap.Int64("user_id", payment.UserID),
		zap.String("reason", reason))
}
