package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易流水
// ============================================================================

// 资金方向
const (
	DirectionCredit = "CREDIT" // 入账
	DirectionDebit  = "DEBIT"  // 出账
)

// 交易分类
const (
	CategoryDeposit      = "DEPOSIT"       // 充值入账
	CategoryPayment      = "PAYMENT"       // 支付扣款
	CategoryTransferOut  = "TRANSFER_OUT"  // 转账转出
	CategoryTransferIn   = "TRANSFER_IN"   // 转账转入
	CategoryReversal     = "REVERSAL"      // 冲正（saga 补偿）
	CategoryConversion   = "CONVERSION"    // 换汇腿
)

// 流水状态
const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// Transaction 账户流水表
// 记录每一次余额变动，是对账的唯一依据
//
// 【设计原则】
// 1. 只追加，不修改，不删除；完成后的流水只能通过追加冲正流水来抵销
// 2. content_hash 是 账户+金额+币种+幂等键 的确定性指纹，用于识别重复提交
// 3. 记录变动前后余额，ValidateBalance 据此重放校验
type Transaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID         int64           `gorm:"index:idx_user_created;not null" json:"user_id"`
	CounterpartyID *int64          `gorm:"index" json:"counterparty_id,omitempty"` // 转账对手方，可为空
	Direction      string          `gorm:"type:varchar(8);not null" json:"direction"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 恒为正数，方向由 direction 决定
	Currency       string          `gorm:"type:varchar(8);not null" json:"currency"`
	Category       string          `gorm:"type:varchar(20);not null" json:"category"`
	Description    string          `gorm:"type:varchar(256)" json:"description"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ContentHash    string          `gorm:"type:varchar(64);index;not null" json:"content_hash"`
	BalanceBefore  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	ReversalOf     *int64          `json:"reversal_of,omitempty"` // 冲正流水指向被冲销的原流水
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_user_created" json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func (Transaction) TableName() string {
	return "account_transaction"
}

// SignedAmount 带符号金额：入账为正，出账为负
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
