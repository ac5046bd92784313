// Package ledger persists executed trades in a single JSON document shared by
// sibling strategies. Writes are read-modify-write under a single-writer lock
// so no strategy ever clobbers another's records.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stacker/internal/domain"
)

// Store owns the ledger file. All strategies writing to the same document
// must share one Store instance; its mutex serializes the read-modify-write
// sequences.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the given ledger file path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure ledger directory %s", dir)
	}

	return &Store{path: path}, nil
}

// readDocument loads the full document, preserving sibling strategies' data
// as raw JSON. A missing file yields an empty document.
func (s *Store) readDocument() (map[string]json.RawMessage, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, errors.Wrap(err, "failed to read ledger file")
	}

	if len(payload) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode ledger file")
	}

	return doc, nil
}

// writeDocument persists the document durably: temp file, fsync, rename.
// The write completes synchronously before the caller continues.
func (s *Store) writeDocument(doc map[string]json.RawMessage) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode ledger document")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open ledger temp file")
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write ledger temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to sync ledger temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close ledger temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "failed to persist ledger file")
	}

	return nil
}

// Ledger is one strategy's append-only view over the shared store.
type Ledger struct {
	store    *Store
	strategy string

	mu     sync.RWMutex
	trades []domain.Trade
}

// New creates a ledger view for a strategy.
func New(store *Store, strategy string) *Ledger {
	return &Ledger{
		store:    store,
		strategy: strategy,
	}
}

// Load reconstructs the in-memory trade list from the document.
func (l *Ledger) Load() error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	doc, err := l.store.readDocument()
	if err != nil {
		return err
	}

	trades, err := decodeTrades(doc[l.strategy])
	if err != nil {
		return errors.Wrapf(err, "failed to decode trades for strategy %s", l.strategy)
	}

	l.mu.Lock()
	l.trades = trades
	l.mu.Unlock()

	return nil
}

// Append durably records a trade. The full document is re-read, only this
// strategy's sub-collection is replaced and the write is synced to disk
// before Append returns; a confirmed fill is never reported successful
// before its record is durable.
func (l *Ledger) Append(trade domain.Trade) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	doc, err := l.store.readDocument()
	if err != nil {
		return err
	}

	trades, err := decodeTrades(doc[l.strategy])
	if err != nil {
		return errors.Wrapf(err, "failed to decode trades for strategy %s", l.strategy)
	}

	trades = append(trades, trade)

	encoded, err := json.Marshal(trades)
	if err != nil {
		return errors.Wrap(err, "failed to encode trades")
	}
	doc[l.strategy] = encoded

	if err := l.store.writeDocument(doc); err != nil {
		return err
	}

	l.mu.Lock()
	l.trades = trades
	l.mu.Unlock()

	return nil
}

// Trades returns a copy of the recorded trades.
func (l *Ledger) Trades() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// SpentOn sums the quote amounts of trades executed on the given day.
func (l *Ledger) SpentOn(day time.Time) decimal.Decimal {
	y, m, d := day.Date()

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, trade := range l.trades {
		ty, tm, td := trade.Timestamp.Date()
		if ty == y && tm == m && td == d {
			total = total.Add(trade.AmountQuote)
		}
	}
	return total
}

func decodeTrades(raw json.RawMessage) ([]domain.Trade, error) {
	if len(raw) == 0 {
		return []domain.Trade{}, nil
	}

	var trades []domain.Trade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}
