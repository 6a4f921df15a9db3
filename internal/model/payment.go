package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusCreated   = "CREATED"
	PaymentStatusExecuting = "EXECUTING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusRejected  = "REJECTED" // 合规不通过或欺诈拦截，未触达账本
	PaymentStatusFailed    = "FAILED"
)

// ValidStatusTransitions 支付单状态机
// REJECTED / COMPLETED / FAILED 均为终态
var ValidStatusTransitions = map[string][]string{
	PaymentStatusCreated:   {PaymentStatusExecuting, PaymentStatusRejected},
	PaymentStatusExecuting: {PaymentStatusCompleted, PaymentStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 支付类型
const (
	PaymentTypePayment  = "PAYMENT"  // 单账户扣款
	PaymentTypeTransfer = "TRANSFER" // 同币种转账
	PaymentTypeCrossFX  = "CROSS_FX" // 跨币种转账，走 saga
)

// Payment 支付单表
// 一次 PaymentService.Execute 调用对应一行，request_id 保证幂等
type Payment struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo      string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	RequestID      string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID         int64               `gorm:"index;not null" json:"user_id"`
	RecipientID    *int64              `json:"recipient_id,omitempty"`
	Type           string              `gorm:"type:varchar(16);not null" json:"type"`
	Amount         decimal.Decimal     `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency       string              `gorm:"type:varchar(8);not null" json:"currency"`
	TargetCurrency string              `gorm:"type:varchar(8)" json:"target_currency,omitempty"`   // 仅跨币种转账使用
	TargetAmount   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"target_amount,omitempty"` // 换汇后的入账金额，与入账腿同事务写入
	Status         string              `gorm:"type:varchar(20);index;not null" json:"status"`
	ReviewRequired bool                `gorm:"not null;default:false" json:"review_required"` // 软标记：进入人工审计名单但不阻断
	RejectReason   string              `gorm:"type:varchar(256)" json:"reject_reason,omitempty"`
	SagaID         string              `gorm:"type:varchar(64)" json:"saga_id,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	CreatedAt      time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
