package fraud

import (
	"context"
	"sort"
	"sync"
)

// MemoryTransactionStore is an in-memory TransactionStore for demo/test use.
type MemoryTransactionStore struct {
	mu   sync.RWMutex
	txns map[string]*Transaction
}

// NewMemoryTransactionStore creates an in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txns: make(map[string]*Transaction)}
}

func (s *MemoryTransactionStore) Create(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tx
	s.txns[tx.ID] = &cp
	return nil
}

func (s *MemoryTransactionStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryTransactionStore) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txns[id]
	if !ok {
		return ErrNotFound
	}
	if tx.Status != from {
		return ErrStatusConflict
	}
	tx.Status = to
	return nil
}

// MemoryUserStore is an in-memory UserStore for demo/test use.
type MemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]*UserProfile
	byPhone map[string]string // phone → user ID
}

// NewMemoryUserStore creates an in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[string]*UserProfile),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID] = &cp
	if u.Phone != "" {
		s.byPhone[u.Phone] = u.ID
	}
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) GetByPhone(ctx context.Context, phone string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryUserStore) SetTravelMode(ctx context.Context, userID string, enabled bool, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TravelMode = enabled
	u.TrustedLocation = location
	return nil
}

// MemoryAlertStore is an in-memory AlertStore for demo/test use.
type MemoryAlertStore struct {
	mu     sync.Mutex
	alerts map[string][]*Alert // phone → entries
}

// NewMemoryAlertStore creates an in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string][]*Alert)}
}

func (s *MemoryAlertStore) Record(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.alerts[a.Phone] = append(s.alerts[a.Phone], &cp)
	return nil
}

func (s *MemoryAlertStore) ListByPhone(ctx context.Context, phone string, limit int) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.alerts[phone]
	result := make([]*Alert, 0, len(entries))
	for _, a := range entries {
		cp := *a
		result = append(result, &cp)
	}

	// Most recent first. Stable keeps insertion order for equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryAlertStore) Claim(ctx context.Context, phone, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteLocked(phone, transactionID) {
		return ErrAlertClaimed
	}
	return nil
}

func (s *MemoryAlertStore) Remove(ctx context.Context, phone, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(phone, transactionID)
	return nil
}

// deleteLocked removes the entry and reports whether it existed.
func (s *MemoryAlertStore) deleteLocked(phone, transactionID string) bool {
	entries := s.alerts[phone]
	for i, a := range entries {
		if a.TransactionID == transactionID {
			s.alerts[phone] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}
