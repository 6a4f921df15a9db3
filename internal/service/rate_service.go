package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paycore/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

var ErrRateUnavailable = errors.New("汇率不可用")

// Quote 一次汇率报价，过了 ValidUntil 需要重新取价
type Quote struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Rate       decimal.Decimal `json:"rate"`
	ValidUntil time.Time       `json:"valid_until"`
}

// RateProvider 汇率提供方，跨币种 saga 的换汇腿使用
type RateProvider interface {
	GetRate(ctx context.Context, from, to string) (*Quote, error)
}

// StaticRateProvider 静态汇率表，从配置读取
// 配置里只需要写单方向，反方向按倒数推
type StaticRateProvider struct {
	rates    map[string]decimal.Decimal
	validity time.Duration
}

func NewStaticRateProvider(cfg *config.FXConfig) *StaticRateProvider {
	rates := make(map[string]decimal.Decimal, len(cfg.Rates))
	for pair, rate := range cfg.Rates {
		rates[pair] = decimal.NewFromFloat(rate)
	}
	validity := time.Duration(cfg.ValiditySeconds) * time.Second
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &StaticRateProvider{rates: rates, validity: validity}
}

func (p *StaticRateProvider) GetRate(ctx context.Context, from, to string) (*Quote, error) {
	if from == to {
		return &Quote{From: from, To: to, Rate: decimal.NewFromInt(1), ValidUntil: time.Now().Add(p.validity)}, nil
	}
	if rate, ok := p.rates[from+"_"+to]; ok {
		return &Quote{From: from, To: to, Rate: rate, ValidUntil: time.Now().Add(p.validity)}, nil
	}
	if inverse, ok := p.rates[to+"_"+from]; ok && inverse.IsPositive() {
		rate := decimal.NewFromInt(1).DivRound(inverse, 8)
		return &Quote{From: from, To: to, Rate: rate, ValidUntil: time.Now().Add(p.validity)}, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrRateUnavailable, from, to)
}

// CachedRateProvider 在上游之上挂一层 redis 缓存
// 缓存不可用时直接穿透到上游，不影响取价
type CachedRateProvider struct {
	inner RateProvider
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedRateProvider(inner RateProvider, rdb *redis.Client, cfg *config.FXConfig) *CachedRateProvider {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRateProvider{inner: inner, rdb: rdb, ttl: ttl}
}

func (p *CachedRateProvider) GetRate(ctx context.Context, from, to string) (*Quote, error) {
	key := fmt.Sprintf("fx:rate:%s_%s", from, to)

	if data, err := p.rdb.Get(ctx, key).Result(); err == nil {
		var quote Quote
		if err := json.Unmarshal([]byte(data), &quote); err == nil && time.Now().Before(quote.ValidUntil) {
			return &quote, nil
		}
	}

	quote, err := p.inner.GetRate(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(quote); err == nil {
		// SET 失败无所谓，下次再穿透
		p.rdb.Set(ctx, key, data, p.ttl)
	}
	return quote, nil
}
