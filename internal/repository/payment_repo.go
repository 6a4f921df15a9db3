package repository

import (
	"context"
	"errors"
	"time"

	"paycore/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound      = errors.New("支付单不存在")
	ErrPaymentStatusInvalid = errors.New("支付单状态不合法")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByRequestID 幂等查找，不存在时返回 nil 而不是错误
func (r *PaymentRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus 按状态机推进支付单状态
// WHERE 带上 fromStatus 做 CAS，并发推进时只有一个会成功
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, paymentNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.PaymentStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("payment_no = ? AND status = ?", paymentNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}

	return nil
}

// SetTargetAmount 记录换汇后的入账金额
// 必须和入账腿的流水写入传同一个事务句柄，两者同时可见或同时不可见，
// 对账任务据此重算入账腿的 content_hash
func (r *PaymentRepository) SetTargetAmount(ctx context.Context, tx *gorm.DB, paymentNo string, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("payment_no = ?", paymentNo).
		Update("target_amount", amount).Error
}

// GetStuckExecuting 长时间停留在 EXECUTING 的支付单，对账任务用
func (r *PaymentRepository) GetStuckExecuting(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.PaymentStatusExecuting, beforeTime).
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// GetStuckCreated 长时间停留在 CREATED 的支付单
// 正常流程建单即推进，走到这里说明写入方在两步之间异常中断
func (r *PaymentRepository) GetStuckCreated(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.PaymentStatusCreated, beforeTime).
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
