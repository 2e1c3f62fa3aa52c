package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

//go:embed scripts/mirror_price.lua
var mirrorPriceLua string

// PriceMirror implements domain.PriceMirror using Redis hashes.
// Each instrument is stored at "[prefix:]price:{instrumentID}" with fields "as_of"
// (Unix nanoseconds), "price", "currency", "source" and "order" (see orderKey). Writes go through a
// Lua script so an older record never replaces a newer one, even when several
// processes mirror into the same Redis.
type PriceMirror struct {
	rdb    *redis.Client
	keys   keyspace
	mirror *redis.Script
}

// NewPriceMirror creates a PriceMirror backed by the given Client.
func NewPriceMirror(c *Client) *PriceMirror {
	return &PriceMirror{
		rdb:    c.rdb,
		keys:   c.keys,
		mirror: redis.NewScript(mirrorPriceLua),
	}
}

// mirrorArgs flattens a record into the script's ARGV.
func mirrorArgs(rec domain.PriceRecord[domain.Quote]) []interface{} {
	q := rec.Payload()
	nanos := rec.AsOf().UnixNano()
	return []interface{}{
		strconv.FormatInt(nanos, 10),
		q.Price.String(),
		q.Currency,
		q.Source,
		orderKey(nanos),
	}
}

// orderKey maps Unix nanoseconds onto 20 zero-padded digits whose string
// order is the time order, before 1970 included. Flipping the sign bit turns
// int64 order into uint64 order. Lua numbers are doubles and would lose the
// nanoseconds, so the script compares these strings instead.
func orderKey(nanos int64) string {
	return fmt.Sprintf("%020d", uint64(nanos)^(1<<63))
}

// MirrorPrices writes records in one pipeline and returns how many of them
// replaced the mirrored value.
func (pm *PriceMirror) MirrorPrices(ctx context.Context, records []domain.PriceRecord[domain.Quote]) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := pm.mirror.Load(ctx, pm.rdb).Err(); err != nil {
		return 0, fmt.Errorf("redis: load mirror script: %w", err)
	}

	pipe := pm.rdb.Pipeline()
	cmds := make([]*redis.Cmd, len(records))
	for i, rec := range records {
		cmds[i] = pm.mirror.EvalSha(ctx, pipe, []string{pm.keys.price(rec.InstrumentID())}, mirrorArgs(rec)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: mirror %d prices: %w", len(records), err)
	}

	written := 0
	for _, cmd := range cmds {
		if n, err := cmd.Int(); err == nil && n == 1 {
			written++
		}
	}
	return written, nil
}

// GetPrice reads a mirrored price. It returns domain.ErrNotFound when the key
// does not exist.
func (pm *PriceMirror) GetPrice(ctx context.Context, instrumentID string) (domain.PriceRecord[domain.Quote], error) {
	vals, err := pm.rdb.HGetAll(ctx, pm.keys.price(instrumentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.PriceRecord[domain.Quote]{}, fmt.Errorf("redis: get price %s: %w", instrumentID, err)
	}
	if len(vals) == 0 {
		return domain.PriceRecord[domain.Quote]{}, domain.ErrNotFound
	}
	return parseMirrored(instrumentID, vals)
}

func parseMirrored(instrumentID string, vals map[string]string) (domain.PriceRecord[domain.Quote], error) {
	tsStr, ok := vals["as_of"]
	if !ok {
		return domain.PriceRecord[domain.Quote]{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceRecord[domain.Quote]{}, fmt.Errorf("redis: parse as_of %s: %w", instrumentID, err)
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.PriceRecord[domain.Quote]{}, fmt.Errorf("redis: parse price %s: %w", instrumentID, err)
	}
	q := domain.Quote{Price: price, Currency: vals["currency"], Source: vals["source"]}
	rec, err := domain.NewPriceRecord(instrumentID, time.Unix(0, tsNano).UTC(), q)
	if err != nil {
		return domain.PriceRecord[domain.Quote]{}, fmt.Errorf("redis: get price %s: %w", instrumentID, err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.PriceMirror = (*PriceMirror)(nil)
