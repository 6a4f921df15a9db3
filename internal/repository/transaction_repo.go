package repository

import (
	"context"
	"errors"
	"time"

	"paycore/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetCompletedByContentHash 幂等查找
// 同一账户下已存在相同 content_hash 的已完成流水，说明是重复提交，
// 调用方直接返回当时的结果，不再重复记账
func (r *TransactionRepository) GetCompletedByContentHash(ctx context.Context, tx *gorm.DB, userID int64, contentHash string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND content_hash = ? AND status = ?",
			userID, contentHash, model.TransactionStatusCompleted).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// SumCompletedDebits 统计窗口内已完成出账总额，限额检查用
// 必须传入和记账同一个事务句柄，避免并发提交绕过限额。
// 只统计同币种流水，不同币种的金额不能直接相加；
// REVERSAL 是冲正回退，不算用户自己的消费
func (r *TransactionRepository) SumCompletedDebits(ctx context.Context, tx *gorm.DB, userID int64, currency string, from, to time.Time) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var sum decimal.NullDecimal
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND currency = ? AND direction = ? AND status = ? AND category <> ? AND created_at >= ? AND created_at <= ?",
			userID, currency, model.DirectionDebit, model.TransactionStatusCompleted,
			model.CategoryReversal, from, to).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// CountByUserSince 统计用户在 since 之后的操作次数，速率检查用
func (r *TransactionRepository) CountByUserSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// AvgCompletedDebitAmount 用户历史出账均值，欺诈策略的金额异常判断用
func (r *TransactionRepository) AvgCompletedDebitAmount(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var avg decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("AVG(amount)").
		Where("user_id = ? AND direction = ? AND status = ?",
			userID, model.DirectionDebit, model.TransactionStatusCompleted).
		Scan(&avg).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !avg.Valid {
		return decimal.Zero, nil
	}
	return avg.Decimal, nil
}

// CountTransfersTo 用户历史上给某个对手方转账的次数，首次收款人判断用
func (r *TransactionRepository) CountTransfersTo(ctx context.Context, userID, counterpartyID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND counterparty_id = ? AND direction = ? AND status = ?",
			userID, counterpartyID, model.DirectionDebit, model.TransactionStatusCompleted).
		Count(&count).Error
	return count, err
}

// ListCompletedByAccount 某账户全部已完成流水，按时间升序，对账重放用
func (r *TransactionRepository) ListCompletedByAccount(ctx context.Context, userID int64, currency string) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ? AND status = ?",
			userID, currency, model.TransactionStatusCompleted).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
