package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAlertLookback bounds how many recent correlation entries are
// scanned when routing a reply. Entries older than the five most recent
// are effectively unreachable, matching alert fatigue in practice.
const DefaultAlertLookback = 5

// Correlator maintains the phone → pending-transaction mapping that routes
// a free-text reply to the transaction it refers to.
type Correlator struct {
	alerts   AlertStore
	lookback int
}

// NewCorrelator creates a correlator over the given alert store.
func NewCorrelator(alerts AlertStore) *Correlator {
	return &Correlator{alerts: alerts, lookback: DefaultAlertLookback}
}

// WithLookback overrides the resolvable-entry lookback window.
func (c *Correlator) WithLookback(n int) *Correlator {
	if n > 0 {
		c.lookback = n
	}
	return c
}

// Record inserts a correlation entry for a freshly flagged transaction.
// Entries are not deduplicated: several simultaneous alerts to one phone
// are possible, and FindResolvable picks the most recent.
func (c *Correlator) Record(ctx context.Context, phone, transactionID string, ts time.Time) error {
	err := c.alerts.Record(ctx, &Alert{
		Phone:         phone,
		TransactionID: transactionID,
		Status:        StatusAwaitingConfirmation,
		CreatedAt:     ts,
	})
	if err != nil {
		return fmt.Errorf("record alert for %s: %w", transactionID, err)
	}
	return nil
}

// FindResolvable returns the most recent entry for the phone number that
// is awaiting confirmation, or ErrNotFound. Entries are written with
// status AwaitingConfirmation and the filter here matches that exact
// label; an earlier handler generation filtered on the transaction's
// "Pending" label instead and never resolved anything.
func (c *Correlator) FindResolvable(ctx context.Context, phone string) (string, error) {
	entries, err := c.alerts.ListByPhone(ctx, phone, c.lookback)
	if err != nil {
		return "", fmt.Errorf("list alerts for %s: %w", phone, err)
	}

	for _, entry := range entries {
		if entry.Status == StatusAwaitingConfirmation {
			return entry.TransactionID, nil
		}
	}
	return "", ErrNotFound
}

// Claim atomically takes ownership of the entry. When two replies race,
// exactly one claim succeeds; the loser gets ErrAlertClaimed and should
// report no active alert.
func (c *Correlator) Claim(ctx context.Context, phone, transactionID string) error {
	err := c.alerts.Claim(ctx, phone, transactionID)
	if err != nil && !errors.Is(err, ErrAlertClaimed) {
		return fmt.Errorf("claim alert %s/%s: %w", phone, transactionID, err)
	}
	return err
}

// Remove deletes the entry, succeeding even if it is already gone.
func (c *Correlator) Remove(ctx context.Context, phone, transactionID string) error {
	if err := c.alerts.Remove(ctx, phone, transactionID); err != nil {
		return fmt.Errorf("remove alert %s/%s: %w", phone, transactionID, err)
	}
	return nil
}
