package domain

import (
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is one immutable price observation for an instrument. The
// payload is opaque to the store; only InstrumentID and AsOf drive ordering.
type PriceRecord[P any] struct {
	instrumentID string
	asOf         time.Time
	payload      P
}

// NewPriceRecord validates and builds a PriceRecord. It returns ErrValidation
// when the instrument id is blank or asOf is the zero time.
func NewPriceRecord[P any](instrumentID string, asOf time.Time, payload P) (PriceRecord[P], error) {
	if strings.TrimSpace(instrumentID) == "" {
		return PriceRecord[P]{}, NewBatchError("record", "", ErrValidation, "instrument id is required")
	}
	if asOf.IsZero() {
		return PriceRecord[P]{}, NewBatchError("record", "", ErrValidation, "as_of is required for "+instrumentID)
	}
	return PriceRecord[P]{instrumentID: instrumentID, asOf: asOf, payload: payload}, nil
}

// MustPriceRecord is NewPriceRecord for fixtures and constants; it panics on
// invalid input.
func MustPriceRecord[P any](instrumentID string, asOf time.Time, payload P) PriceRecord[P] {
	r, err := NewPriceRecord(instrumentID, asOf, payload)
	if err != nil {
		panic(err)
	}
	return r
}

func (r PriceRecord[P]) InstrumentID() string { return r.instrumentID }
func (r PriceRecord[P]) AsOf() time.Time      { return r.asOf }
func (r PriceRecord[P]) Payload() P           { return r.payload }

// Valid reports whether r carries both mandatory fields. The zero
// PriceRecord is not valid.
func (r PriceRecord[P]) Valid() bool {
	return strings.TrimSpace(r.instrumentID) != "" && !r.asOf.IsZero()
}

// Equal compares all three attributes. Payloads with an Equal(P) bool method
// (Quote, decimal.Decimal) are compared with it; anything else is compared
// deeply.
func (r PriceRecord[P]) Equal(other PriceRecord[P]) bool {
	if r.instrumentID != other.instrumentID || !r.asOf.Equal(other.asOf) {
		return false
	}
	if eq, ok := any(r.payload).(interface{ Equal(P) bool }); ok {
		return eq.Equal(other.payload)
	}
	return reflect.DeepEqual(r.payload, other.payload)
}

// Quote is the payload carried by deployed price records.
type Quote struct {
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
	Source   string          `json:"source,omitempty"`
}

// Equal compares prices numerically, so 150.2 and 150.20 are the same quote.
func (q Quote) Equal(other Quote) bool {
	return q.Price.Equal(other.Price) && q.Currency == other.Currency && q.Source == other.Source
}

// QuoteJSON is the wire form of a Quote record used by the HTTP API,
// batch events and snapshots.
type QuoteJSON struct {
	InstrumentID string          `json:"instrument_id"`
	AsOf         time.Time       `json:"as_of"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency,omitempty"`
	Source       string          `json:"source,omitempty"`
}

// ToQuoteJSON converts a record to its wire form.
func ToQuoteJSON(rec PriceRecord[Quote]) QuoteJSON {
	q := rec.Payload()
	return QuoteJSON{
		InstrumentID: rec.InstrumentID(),
		AsOf:         rec.AsOf(),
		Price:        q.Price,
		Currency:     q.Currency,
		Source:       q.Source,
	}
}

// Record validates the wire form and builds a record from it.
func (j QuoteJSON) Record() (PriceRecord[Quote], error) {
	return NewPriceRecord(j.InstrumentID, j.AsOf, Quote{Price: j.Price, Currency: j.Currency, Source: j.Source})
}
