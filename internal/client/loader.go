package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// DefaultChunkSize matches the server's default per-call limit.
const DefaultChunkSize = 1000

const cancelTimeout = 10 * time.Second

// LoadBatch runs one full batch: start, publish records in chunks of at
// most chunkSize, complete. When any step after start fails the batch is
// cancelled so the slot is freed, and the original error is returned.
func (c *Client) LoadBatch(ctx context.Context, records []domain.PriceRecord[domain.Quote], chunkSize int) (CompleteResult, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	id, err := c.StartBatch(ctx)
	if err != nil {
		return CompleteResult{}, err
	}

	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		if _, err := c.PublishPrices(ctx, id, records[start:end]); err != nil {
			return CompleteResult{}, c.abort(ctx, id, fmt.Errorf("chunk %d-%d: %w", start, end, err))
		}
	}

	res, err := c.CompleteBatch(ctx, id)
	if err != nil {
		return CompleteResult{}, c.abort(ctx, id, err)
	}
	return res, nil
}

// abort cancels id and returns cause, joined with the cancel failure if
// there was one. A batch that is already closed needs no cancel.
func (c *Client) abort(ctx context.Context, id domain.BatchID, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if _, err := c.CancelBatch(cctx, id); err != nil && !errors.Is(err, domain.ErrState) {
		return errors.Join(cause, err)
	}
	return cause
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
