// Package fraud implements hybrid fraud scoring and SMS confirmation for
// card transactions.
//
// Every inbound transaction is evaluated twice: a deterministic rule pass
// (amount, location, merchant risk weight) and a pre-trained categorical
// classifier. Either signal can flag the transaction. Flagged transactions
// move to AwaitingConfirmation, the cardholder gets an SMS alert, and a
// correlation entry maps their phone number back to the transaction so a
// later free-text reply resolves exactly one outstanding alert.
package fraud

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	// StatusPending means the transaction has been ingested but not scored.
	StatusPending Status = "Pending"
	// StatusAwaitingConfirmation means the transaction was flagged and an
	// alert was dispatched to the cardholder.
	StatusAwaitingConfirmation Status = "AwaitingConfirmation"
	// StatusConfirmedFraud is terminal: the cardholder confirmed fraud.
	StatusConfirmedFraud Status = "ConfirmedFraud"
	// StatusConfirmedLegitimate is terminal: the cardholder denied fraud.
	StatusConfirmedLegitimate Status = "ConfirmedLegitimate"
)

// IsTerminal reports whether no further status transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmedFraud || s == StatusConfirmedLegitimate
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingConfirmation, StatusConfirmedFraud, StatusConfirmedLegitimate:
		return true
	}
	return false
}

// Transaction is a single card transaction as received from the
// transaction source. RiskScore is the pre-computed merchant risk weight
// (0.0-1.0) supplied by the upstream signal, not our own scoring output.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Merchant      string    `json:"merchant"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"paymentMethod"`
	Location      string    `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
	RiskScore     float64   `json:"riskScore"`
	Status        Status    `json:"status"`
}

// UserProfile is a cardholder. TrustedLocation holds at most one value;
// enabling travel mode for a new location replaces the previous one.
type UserProfile struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	TravelMode      bool      `json:"travelMode"`
	TrustedLocation string    `json:"trustedLocation,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Alert is a correlation entry mapping a phone number to a transaction
// that awaits the cardholder's reply. Entries are deleted on resolution,
// never transitioned, so AwaitingConfirmation is the only status an entry
// ever carries.
type Alert struct {
	Phone         string    `json:"phone"`
	TransactionID string    `json:"transactionId"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict means a conditional status transition found the
	// transaction in a different state than expected.
	ErrStatusConflict = errors.New("transaction status conflict")
	// ErrAlertClaimed means the correlation entry was already claimed
	// (or never existed) when a claim was attempted.
	ErrAlertClaimed = errors.New("alert already claimed")
)

// TransactionStore persists transactions keyed by transaction ID.
type TransactionStore interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// TransitionStatus performs a compare-and-set transition: the row is
	// updated only if its current status equals from. ErrStatusConflict is
	// returned otherwise, ErrNotFound if the transaction does not exist.
	TransitionStatus(ctx context.Context, id string, from, to Status) error
}

// UserStore persists cardholder profiles.
type UserStore interface {
	Create(ctx context.Context, u *UserProfile) error
	Get(ctx context.Context, id string) (*UserProfile, error)
	GetByPhone(ctx context.Context, phone string) (*UserProfile, error)
	// SetTravelMode updates the travel-mode flag and trusted location in a
	// single write. Disabling always clears the location.
	SetTravelMode(ctx context.Context, userID string, enabled bool, location string) error
}

// AlertStore persists correlation entries keyed by (phone, transaction ID)
// and range-queryable by creation time.
type AlertStore interface {
	Record(ctx context.Context, a *Alert) error
	// ListByPhone returns up to limit entries for the phone number, most
	// recent first.
	ListByPhone(ctx context.Context, phone string, limit int) ([]*Alert, error)
	// Claim atomically deletes the entry, returning ErrAlertClaimed if it
	// was already gone. Exactly one of two concurrent claimants wins.
	Claim(ctx context.Context, phone, transactionID string) error
	// Remove deletes the entry; it is a no-op if the entry is absent.
	Remove(ctx context.Context, phone, transactionID string) error
}

// Notifier delivers an outbound text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}
