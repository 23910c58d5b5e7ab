package fraud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresTransactionStore persists transactions in PostgreSQL.
type PostgresTransactionStore struct {
	db *sql.DB
}

// NewPostgresTransactionStore creates a PostgreSQL-backed transaction store.
func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

func (s *PostgresTransactionStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, merchant, category, payment_method, location, risk_score, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		tx.ID, tx.UserID, tx.Amount, tx.Merchant, tx.Category,
		tx.PaymentMethod, tx.Location, tx.RiskScore, string(tx.Status), tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *PostgresTransactionStore) Get(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, merchant, category, payment_method, location, risk_score, status, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Merchant, &tx.Category,
		&tx.PaymentMethod, &tx.Location, &tx.RiskScore, &status, &tx.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Status = Status(status)
	return &tx, nil
}

// TransitionStatus is a per-row compare-and-set: the WHERE clause carries
// the expected current status, so a stale redelivery can never overwrite
// a terminal verdict.
func (s *PostgresTransactionStore) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing row from a status mismatch.
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check transaction existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// PostgresUserStore persists cardholder profiles in PostgreSQL.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a PostgreSQL-backed user store.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Create(ctx context.Context, u *UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, first_name, last_name, travel_mode, trusted_location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		u.ID, u.Phone, u.FirstName, u.LastName, u.TravelMode, u.TrustedLocation, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Get(ctx context.Context, id string) (*UserProfile, error) {
	return s.get(ctx, `WHERE id = $1`, id)
}

func (s *PostgresUserStore) GetByPhone(ctx context.Context, phone string) (*UserProfile, error) {
	return s.get(ctx, `WHERE phone = $1`, phone)
}

func (s *PostgresUserStore) get(ctx context.Context, where string, arg any) (*UserProfile, error) {
	var u UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, first_name, last_name, travel_mode, trusted_location, created_at
		FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Phone, &u.FirstName, &u.LastName, &u.TravelMode, &u.TrustedLocation, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresUserStore) SetTravelMode(ctx context.Context, userID string, enabled bool, location string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET travel_mode = $1, trusted_location = $2 WHERE id = $3
	`, enabled, location, userID)
	if err != nil {
		return fmt.Errorf("failed to set travel mode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresAlertStore persists correlation entries in PostgreSQL.
type PostgresAlertStore struct {
	db *sql.DB
}

// NewPostgresAlertStore creates a PostgreSQL-backed alert store.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

func (s *PostgresAlertStore) Record(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_alerts (phone, transaction_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.Phone, a.TransactionID, string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) ListByPhone(ctx context.Context, phone string, limit int) ([]*Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phone, transaction_id, status, created_at
		FROM fraud_alerts
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		var a Alert
		var status string
		if err := rows.Scan(&a.Phone, &a.TransactionID, &status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Status = Status(status)
		result = append(result, &a)
	}
	return result, rows.Err()
}

// Claim is a single conditional delete: of two racing claimants, exactly
// one sees a deleted row. The loser gets ErrAlertClaimed.
func (s *PostgresAlertStore) Claim(ctx context.Context, phone, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM fraud_alerts WHERE phone = $1 AND transaction_id = $2
	`, phone, transactionID)
	if err != nil {
		return fmt.Errorf("failed to claim alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlertClaimed
	}
	return nil
}

func (s *PostgresAlertStore) Remove(ctx context.Context, phone, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM fraud_alerts WHERE phone = $1 AND transaction_id = $2
	`, phone, transactionID)
	if err != nil {
		return fmt.Errorf("failed to remove alert: %w", err)
	}
	return nil
}
