package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const auditColumns = `id, batch_id, event, detail, created_at`

// AuditStore is the batch journal kept in the batch_audit table.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one journal row; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, batchID domain.BatchID, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_audit (batch_id, event, detail) VALUES (@batch_id, @event, @detail)`,
		pgx.NamedArgs{"batch_id": string(batchID), "event": event, "detail": raw},
	)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List pages through the journal newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := buildListQuery(opts)
	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return collectEntries(rows)
}

// ListByBatch returns one batch's rows in write order.
func (s *AuditStore) ListByBatch(ctx context.Context, batchID domain.BatchID) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM batch_audit WHERE batch_id = @batch_id ORDER BY id`,
		pgx.NamedArgs{"batch_id": string(batchID)},
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit for batch %s: %w", batchID, err)
	}
	return collectEntries(rows)
}

// buildListQuery renders opts as a query over named arguments. Only the
// filters that are set appear in the WHERE clause.
func buildListQuery(opts domain.ListOpts) (string, pgx.NamedArgs) {
	args := pgx.NamedArgs{}
	var where []string
	if opts.Event != "" {
		where = append(where, "event = @event")
		args["event"] = opts.Event
	}
	if opts.Since != nil {
		where = append(where, "created_at >= @since")
		args["since"] = *opts.Since
	}
	if opts.Until != nil {
		where = append(where, "created_at <= @until")
		args["until"] = *opts.Until
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + auditColumns + ` FROM batch_audit`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT @limit")
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET @offset")
		args["offset"] = opts.Offset
	}
	return b.String(), args
}

func collectEntries(rows pgx.Rows) ([]domain.AuditEntry, error) {
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: read audit rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		batchID string
		detail  []byte
		created time.Time
	)
	if err := row.Scan(&e.ID, &batchID, &e.Event, &detail, &created); err != nil {
		return domain.AuditEntry{}, err
	}
	e.BatchID = domain.BatchID(batchID)
	e.CreatedAt = created.UTC()
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("decode detail of row %d: %w", e.ID, err)
		}
	}
	return e, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
