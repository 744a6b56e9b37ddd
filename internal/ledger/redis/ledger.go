package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

const defaultKeyPrefix = "flashorder"

// Option настраивает Ledger.
type Option func(*Ledger)

// WithKeyPrefix задаёт префикс ключей счётчиков.
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// Ledger: реализация domain.StockLedger поверх Redis.
// Резерв и компенсация выполняются Lua-скриптами, поэтому проверка и запись неделимы.
type Ledger struct {
	client goredis.UniversalClient
	prefix string
}

// NewLedger создаёт Redis-реализацию StockLedger.
func NewLedger(client goredis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Preload загружает скрипты в кэш Redis, чтобы первые резервы шли через EVALSHA.
func (l *Ledger) Preload(ctx context.Context) error {
	if err := reserveScript.Load(ctx, l.client).Err(); err != nil {
		return fmt.Errorf("load reserve script: %w", err)
	}
	if err := releaseScript.Load(ctx, l.client).Err(); err != nil {
		return fmt.Errorf("load release script: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) stockKey(productID int64) string {
	return fmt.Sprintf("%s:stock:{%d}", l.prefix, productID)
}

func (l *Ledger) lockedKey(productID int64) string {
	return fmt.Sprintf("%s:stock:locked:{%d}", l.prefix, productID)
}

func (l *Ledger) Seed(ctx context.Context, productID, stock int64) (bool, error) {
	if stock < 0 {
		return false, domain.ErrStockNegative
	}
	seeded, err := l.client.SetNX(ctx, l.stockKey(productID), stock, 0).Result()
	if err != nil {
		return false, fmt.Errorf("seed stock counter: %w: %w", domain.ErrLedgerUnavailable, err)
	}
	return seeded, nil
}

func (l *Ledger) Reserve(ctx context.Context, productID, quantity int64, deductionID string) error {
	if quantity <= 0 {
		return domain.ErrQuantityInvalid
	}
	if deductionID == "" {
		return domain.ErrDeductionIDRequired
	}

	keys := []string{l.stockKey(productID), l.lockedKey(productID)}
	code, err := reserveScript.Run(ctx, l.client, keys, quantity, deductionID).Int64()
	if err != nil {
		return fmt.Errorf("run reserve script: %w: %w", domain.ErrLedgerUnavailable, err)
	}

	switch code {
	case 1:
		return nil
	case 0:
		return domain.ErrInsufficientStock
	default:
		return fmt.Errorf("unknown result code from reserve script: %d", code)
	}
}

func (l *Ledger) Release(ctx context.Context, productID int64, deductionID string) (bool, error) {
	if deductionID == "" {
		return false, nil
	}

	keys := []string{l.stockKey(productID), l.lockedKey(productID)}
	code, err := releaseScript.Run(ctx, l.client, keys, deductionID).Int64()
	if err != nil {
		return false, fmt.Errorf("run release script: %w: %w", domain.ErrLedgerUnavailable, err)
	}
	return code == 1, nil
}

func (l *Ledger) Consume(ctx context.Context, productID int64, deductionID string) (bool, error) {
	if deductionID == "" {
		return false, nil
	}

	removed, err := l.client.HDel(ctx, l.lockedKey(productID), deductionID).Result()
	if err != nil {
		return false, fmt.Errorf("consume reservation: %w: %w", domain.ErrLedgerUnavailable, err)
	}
	return removed > 0, nil
}

func (l *Ledger) Snapshot(ctx context.Context, productID int64) (domain.LedgerSnapshot, error) {
	pipe := l.client.Pipeline()
	stockCmd := pipe.Get(ctx, l.stockKey(productID))
	pendingCmd := pipe.HGetAll(ctx, l.lockedKey(productID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return domain.LedgerSnapshot{}, fmt.Errorf("read ledger snapshot: %w: %w", domain.ErrLedgerUnavailable, err)
	}

	snapshot := domain.LedgerSnapshot{
		ProductID: productID,
		Pending:   make(map[string]int64),
	}

	available, err := stockCmd.Int64()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return domain.LedgerSnapshot{}, fmt.Errorf("parse stock counter: %w", err)
	default:
		snapshot.Seeded = true
		snapshot.Available = available
	}

	for deductionID, raw := range pendingCmd.Val() {
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("parse reservation %s: %w", deductionID, err)
		}
		snapshot.Pending[deductionID] = qty
	}

	return snapshot, nil
}

func (l *Ledger) Reset(ctx context.Context, productID, stock int64) error {
	if stock < 0 {
		return domain.ErrStockNegative
	}
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, l.stockKey(productID), stock, 0)
		pipe.Del(ctx, l.lockedKey(productID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset stock counter: %w: %w", domain.ErrLedgerUnavailable, err)
	}
	return nil
}

var _ domain.StockLedger = (*Ledger)(nil)
