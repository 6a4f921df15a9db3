package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 资金账户表
// 每个用户每种币种一行，余额只允许 LedgerService 修改
//
// 【不变式】任何一笔已提交操作之后，余额都不允许为负
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"uniqueIndex:uk_user_currency;not null" json:"user_id"`
	Currency  string          `gorm:"type:varchar(8);uniqueIndex:uk_user_currency;not null" json:"currency"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Version   int             `gorm:"not null;default:0" json:"version"`   // 乐观锁版本号，单调递增
	Active    bool            `gorm:"not null;default:true" json:"active"` // 账户只停用，不删除
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
