package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchID identifies one producer batch run. It is opaque to the store.
type BatchID string

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus int

const (
	BatchStatusStarted BatchStatus = iota
	BatchStatusInProgress
	BatchStatusCompleted
	BatchStatusCancelled
)

var batchStatusNames = [...]string{
	BatchStatusStarted:    "STARTED",
	BatchStatusInProgress: "IN_PROGRESS",
	BatchStatusCompleted:  "COMPLETED",
	BatchStatusCancelled:  "CANCELLED",
}

func (s BatchStatus) String() string {
	if s < 0 || int(s) >= len(batchStatusNames) {
		return fmt.Sprintf("BatchStatus(%d)", int(s))
	}
	return batchStatusNames[s]
}

// Terminal reports whether no further operation can succeed on a batch in
// this status.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled
}

// MarshalText implements encoding.TextMarshaler so JSON carries the status name.
func (s BatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *BatchStatus) UnmarshalText(text []byte) error {
	for i, name := range batchStatusNames {
		if name == string(text) {
			*s = BatchStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown batch status %q", text)
}

// BatchInfo is a read-only view of the active batch for operators. It never
// carries staged records.
type BatchInfo struct {
	ID        BatchID     `json:"batch_id"`
	Status    BatchStatus `json:"status"`
	Staged    int         `json:"staged"`
	Publishes int         `json:"publishes"`
	Received  int         `json:"received"`
	StartedAt time.Time   `json:"started_at"`
}

// IDGenerator is the source of unique batch identifiers.
type IDGenerator interface {
	NewBatchID() BatchID
}

// UUIDGenerator issues random (v4) UUIDs.
type UUIDGenerator struct{}

// NewBatchID returns a fresh random UUID string.
func (UUIDGenerator) NewBatchID() BatchID {
	return BatchID(uuid.NewString())
}

// IDGeneratorFunc adapts a plain function to IDGenerator.
type IDGeneratorFunc func() BatchID

func (f IDGeneratorFunc) NewBatchID() BatchID { return f() }
