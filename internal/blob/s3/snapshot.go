package s3blob

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// SnapshotContentType is the content type of snapshot objects.
const SnapshotContentType = "application/x-ndjson"

// SnapshotKey builds the object key for a snapshot taken at t, partitioned by
// UTC day:
//
//	snapshots/2025/01/31/1738281600000000000.jsonl
//
// The nanosecond file name keeps keys within a day sortable by time.
func SnapshotKey(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(strings.Trim(prefix, "/"), t.Format("2006/01/02"), fmt.Sprintf("%d.jsonl", t.UnixNano()))
}

// LatestSnapshot picks the newest snapshot key from a listing. It returns
// false when the listing holds no snapshot objects.
func LatestSnapshot(infos []domain.BlobInfo) (string, bool) {
	keys := snapshotKeys(infos)
	if len(keys) == 0 {
		return "", false
	}
	return keys[len(keys)-1], true
}

// ExpiredSnapshots returns the snapshot keys beyond the newest keep, oldest
// first. keep <= 0 expires nothing.
func ExpiredSnapshots(infos []domain.BlobInfo, keep int) []string {
	keys := snapshotKeys(infos)
	if keep <= 0 || len(keys) <= keep {
		return nil
	}
	return keys[:len(keys)-keep]
}

// snapshotKeys returns the .jsonl keys of a listing in time order. Day
// directories and nanosecond names are fixed width, so lexical order is time
// order.
func snapshotKeys(infos []domain.BlobInfo) []string {
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			keys = append(keys, info.Path)
		}
	}
	sort.Strings(keys)
	return keys
}

// EncodeSnapshot serialises records as newline-delimited JSON, one
// QuoteJSON per line.
func EncodeSnapshot(records []domain.PriceRecord[domain.Quote]) ([]byte, error) {
	lines := make([]domain.QuoteJSON, len(records))
	for i, rec := range records {
		lines[i] = domain.ToQuoteJSON(rec)
	}
	return marshalJSONL(lines)
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) ([]domain.PriceRecord[domain.Quote], error) {
	var out []domain.PriceRecord[domain.Quote]
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var j domain.QuoteJSON
		if err := json.Unmarshal(b, &j); err != nil {
			return nil, fmt.Errorf("s3blob: decode snapshot line %d: %w", line, err)
		}
		rec, err := j.Record()
		if err != nil {
			return nil, fmt.Errorf("s3blob: decode snapshot line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot: %w", err)
	}
	return out, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
