// Package risk guards new entries with per-day trade count and P&L limits. Exit monitoring is
// never blocked by these limits.
package risk

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	dailyLimitsKey = "risk:daily:%s:%s"
	dailyLimitsTTL = 48 * time.Hour
	dayLayout      = "2006-01-02"
)

type DailyLimitsConfig struct {
	MaxTrades int
	// MaxLossPct blocks entries once the day's P&L falls to -MaxLossPct percent of the start balance
	MaxLossPct float64
	// MaxProfitPct blocks entries once the day's P&L reaches this percentage
	MaxProfitPct float64
}

// DailyStats is one account's trading day.
type DailyStats struct {
	Date         string          `json:"date"`
	Trades       int             `json:"trades"`
	PnL          decimal.Decimal `json:"pnl"`
	StartBalance decimal.Decimal `json:"start_balance"`
}

// PnLPct is the day's P&L relative to the start balance, or 0 without a balance.
func (s DailyStats) PnLPct() float64 {
	if !s.StartBalance.IsPositive() {
		return 0
	}
	return s.PnL.Div(s.StartBalance).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

type LimitCheck struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	PnLPct  float64 `json:"pnl_pct"`
	Trades  int     `json:"trades"`
}

// Check applies the limits to stats. P&L limits only apply once a start balance is known.
func (c DailyLimitsConfig) Check(s DailyStats) LimitCheck {
	res := LimitCheck{Allowed: true, PnLPct: s.PnLPct(), Trades: s.Trades}

	if s.StartBalance.IsPositive() {
		if c.MaxLossPct != 0 && res.PnLPct <= -math.Abs(c.MaxLossPct) {
			res.Allowed = false
			res.Reason = fmt.Sprintf("daily loss limit reached: %.2f%%", res.PnLPct)
			return res
		}
		if c.MaxProfitPct > 0 && res.PnLPct >= c.MaxProfitPct {
			res.Allowed = false
			res.Reason = fmt.Sprintf("daily profit target reached: %.2f%%", res.PnLPct)
			return res
		}
	}
	if c.MaxTrades > 0 && s.Trades >= c.MaxTrades {
		res.Allowed = false
		res.Reason = fmt.Sprintf("daily trade limit reached: %d", s.Trades)
	}
	return res
}

// DailyLimits stores the per-day counters behind the limit check.
type DailyLimits interface {
	// Begin records the start balance unless one is already set for the day.
	Begin(ctx context.Context, day time.Time, startBalance decimal.Decimal) error
	RecordTrade(ctx context.Context, day time.Time) (int, error)
	SetPnL(ctx context.Context, day time.Time, pnl decimal.Decimal) error
	Stats(ctx context.Context, day time.Time) (DailyStats, error)
	Reset(ctx context.Context, day time.Time) error
}

// RedisDailyLimits keeps one hash per account and day so that restarts keep the day's counters.
type RedisDailyLimits struct {
	redis   *redis.Client
	prefix  string
	account string
}

var _ DailyLimits = (*RedisDailyLimits)(nil)

func NewRedisDailyLimits(client *redis.Client, prefix, account string) *RedisDailyLimits {
	return &RedisDailyLimits{redis: client, prefix: prefix, account: account}
}

func (d *RedisDailyLimits) key(day time.Time) string {
	key := fmt.Sprintf(dailyLimitsKey, d.account, day.Format(dayLayout))
	if d.prefix != "" {
		key = d.prefix + ":" + key
	}
	return key
}

func (d *RedisDailyLimits) Begin(ctx context.Context, day time.Time, startBalance decimal.Decimal) error {
	key := d.key(day)
	pipe := d.redis.TxPipeline()
	pipe.HSetNX(ctx, key, "start_balance", startBalance.String())
	pipe.Expire(ctx, key, dailyLimitsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDailyLimits) RecordTrade(ctx context.Context, day time.Time) (int, error) {
	key := d.key(day)
	pipe := d.redis.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "trades", 1)
	pipe.Expire(ctx, key, dailyLimitsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (d *RedisDailyLimits) SetPnL(ctx context.Context, day time.Time, pnl decimal.Decimal) error {
	key := d.key(day)
	pipe := d.redis.TxPipeline()
	pipe.HSet(ctx, key, "pnl", pnl.String())
	pipe.Expire(ctx, key, dailyLimitsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDailyLimits) Stats(ctx context.Context, day time.Time) (DailyStats, error) {
	stats := DailyStats{Date: day.Format(dayLayout)}

	fields, err := d.redis.HGetAll(ctx, d.key(day)).Result()
	if err != nil {
		return stats, err
	}
	if v, ok := fields["trades"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return stats, fmt.Errorf("parse trades %q: %w", v, err)
		}
		stats.Trades = n
	}
	if stats.PnL, err = decimalField(fields, "pnl"); err != nil {
		return stats, err
	}
	if stats.StartBalance, err = decimalField(fields, "start_balance"); err != nil {
		return stats, err
	}
	return stats, nil
}

func decimalField(fields map[string]string, name string) (decimal.Decimal, error) {
	v, ok := fields[name]
	if !ok {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", name, v, err)
	}
	return d, nil
}

// Reset clears the day's trades and P&L but keeps the start balance.
func (d *RedisDailyLimits) Reset(ctx context.Context, day time.Time) error {
	return d.redis.HDel(ctx, d.key(day), "trades", "pnl").Err()
}

// MemoryDailyLimits is the in-process fallback used when Redis is not configured.
type MemoryDailyLimits struct {
	mu   sync.Mutex
	days map[string]*DailyStats
}

var _ DailyLimits = (*MemoryDailyLimits)(nil)

func NewMemoryDailyLimits() *MemoryDailyLimits {
	return &MemoryDailyLimits{days: make(map[string]*DailyStats)}
}

func (m *MemoryDailyLimits) day(day time.Time) *DailyStats {
	date := day.Format(dayLayout)
	s, ok := m.days[date]
	if !ok {
		s = &DailyStats{Date: date}
		m.days[date] = s
	}
	return s
}

func (m *MemoryDailyLimits) Begin(_ context.Context, day time.Time, startBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.day(day)
	if s.StartBalance.IsZero() {
		s.StartBalance = startBalance
	}
	return nil
}

func (m *MemoryDailyLimits) RecordTrade(_ context.Context, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.day(day)
	s.Trades++
	return s.Trades, nil
}

func (m *MemoryDailyLimits) SetPnL(_ context.Context, day time.Time, pnl decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day(day).PnL = pnl
	return nil
}

func (m *MemoryDailyLimits) Stats(_ context.Context, day time.Time) (DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.day(day), nil
}

func (m *MemoryDailyLimits) Reset(_ context.Context, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.day(day)
	s.Trades = 0
	s.PnL = decimal.Zero
	return nil
}
