package executor

import (
	"sync"
	"time"

	"polyweather/internal/store"
	"polyweather/pkg/types"
)

const paperLedgerKey = "paper_ledger"

// PaperFill is one simulated fill recorded in dry-run mode. The fill price
// carries a pessimistic spread adjustment relative to the order price.
type PaperFill struct {
	Time        time.Time  `json:"time"`
	ConditionID string     `json:"conditionId"`
	TokenID     string     `json:"tokenId"`
	Slug        string     `json:"slug"`
	BinLabel    string     `json:"binLabel"`
	Side        types.Side `json:"side"`
	Price       float64    `json:"price"`
	Size        float64    `json:"size"` // tokens
	CostUSD     float64    `json:"costUsd"`
	Fair        float64    `json:"fair"`
}

// PaperLedger accumulates simulated fills and persists them across restarts.
type PaperLedger struct {
	mu    sync.Mutex
	st    *store.Store
	fills []PaperFill
}

// NewPaperLedger loads any previously persisted fills.
func NewPaperLedger(st *store.Store) (*PaperLedger, error) {
	l := &PaperLedger{st: st}
	if _, err := st.Load(paperLedgerKey, &l.fills); err != nil {
		return nil, err
	}
	return l, nil
}

// Record appends a fill and persists the ledger.
func (l *PaperLedger) Record(f PaperFill) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills = append(l.fills, f)
	return l.st.Save(paperLedgerKey, l.fills)
}

// Fills returns a snapshot of all recorded fills.
func (l *PaperLedger) Fills() []PaperFill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PaperFill, len(l.fills))
	copy(out, l.fills)
	return out
}
