package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

type auditCall struct {
	batchID domain.BatchID
	event   string
	detail  map[string]any
}

type fakeAudit struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (f *fakeAudit) Log(_ context.Context, id domain.BatchID, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, auditCall{id, event, detail})
	return f.err
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) ListByBatch(context.Context, domain.BatchID) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.event
	}
	return out
}

type fakeMirror struct {
	mu       sync.Mutex
	mirrored []domain.PriceRecord[domain.Quote]
	err      error
}

func (f *fakeMirror) MirrorPrices(_ context.Context, recs []domain.PriceRecord[domain.Quote]) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.mirrored = append(f.mirrored, recs...)
	return len(recs), nil
}

func (f *fakeMirror) GetPrice(context.Context, string) (domain.PriceRecord[domain.Quote], error) {
	return domain.PriceRecord[domain.Quote]{}, domain.ErrNotFound
}

type busMsg struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []busMsg
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, busMsg{channel, payload})
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBus) on(channel string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.msgs {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeNotifier struct {
	events []domain.BatchEvent
}

func (f *fakeNotifier) NotifyBatch(_ context.Context, ev domain.BatchEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	err       error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	return f.store(path, data)
}

func (f *fakeBlobs) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.mu.Lock()
	f.multipart++
	f.mu.Unlock()
	return f.store(path, data)
}

func (f *fakeBlobs) store(path string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (f *fakeBlobs) Delete(_ context.Context, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}

type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func quote(id string, hour int, price string) domain.PriceRecord[domain.Quote] {
	return domain.MustPriceRecord(id, baseTime.Add(time.Duration(hour)*time.Hour),
		domain.Quote{Price: decimal.RequireFromString(price), Currency: "USD"})
}
