package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Additional-Code/orderflow/internal/entity"
)

// MemoryStore keeps orders in process memory. Transactions buffer their
// writes and validate versions and ledger keys again at commit, so
// concurrent writers observe the same conflicts a SQL backend reports.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*entity.Order
	numbers   map[string]string
	processed map[ledgerKey]*entity.ProcessedEvent
	audit     map[string][]entity.AuditEntry
	events    []entity.PaymentEvent
}

type ledgerKey struct {
	provider entity.Provider
	eventID  string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*entity.Order),
		numbers:   make(map[string]string),
		processed: make(map[ledgerKey]*entity.ProcessedEvent),
		audit:     make(map[string][]entity.AuditEntry),
	}
}

// RunInTx runs fn against a buffered transaction and commits it atomically.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:     s,
		orders:    make(map[string]stagedOrder),
		processed: make(map[ledgerKey]*entity.ProcessedEvent),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range tx.processed {
		if _, ok := s.processed[key]; ok {
			return ErrDuplicateEvent
		}
	}
	for id, staged := range tx.orders {
		current, ok := s.orders[id]
		if !ok {
			return ErrNotFound
		}
		if current.Version != staged.baseVersion {
			return ErrVersionConflict
		}
	}

	for id, staged := range tx.orders {
		s.orders[id] = staged.order.Clone()
	}
	for key, record := range tx.processed {
		cp := *record
		s.processed[key] = &cp
	}
	for _, entry := range tx.audit {
		s.audit[entry.OrderID] = append(s.audit[entry.OrderID], entry)
	}
	return nil
}

// CreateOrder stores a new order.
func (s *MemoryStore) CreateOrder(_ context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.numbers[order.Number]; ok {
		return ErrDuplicateNumber
	}
	s.orders[order.ID] = order.Clone()
	s.numbers[order.Number] = order.ID
	return nil
}

// GetOrder returns a copy of the stored order.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

// ListOrdersByOwner returns the newest orders for ownerID.
func (s *MemoryStore) ListOrdersByOwner(_ context.Context, ownerID string, limit int) ([]entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Order, 0)
	for _, order := range s.orders {
		if order.OwnerID == ownerID {
			out = append(out, *order.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAuditEntries returns a copy of an order's audit trail.
func (s *MemoryStore) ListAuditEntries(_ context.Context, orderID string) ([]entity.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entity.AuditEntry(nil), s.audit[orderID]...), nil
}

// GetProcessedEvent reads a committed ledger entry.
func (s *MemoryStore) GetProcessedEvent(_ context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.processed[ledgerKey{provider, eventID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

// RecordPaymentEvent appends a delivery to the event history.
func (s *MemoryStore) RecordPaymentEvent(_ context.Context, event *entity.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)
	return nil
}

// PaymentEvents returns every recorded delivery.
func (s *MemoryStore) PaymentEvents() []entity.PaymentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entity.PaymentEvent(nil), s.events...)
}

type stagedOrder struct {
	order       *entity.Order
	baseVersion int64
}

type memTx struct {
	store     *MemoryStore
	orders    map[string]stagedOrder
	processed map[ledgerKey]*entity.ProcessedEvent
	audit     []entity.AuditEntry
}

func (t *memTx) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	if staged, ok := t.orders[id]; ok {
		return staged.order.Clone(), nil
	}
	return t.store.GetOrder(ctx, id)
}

func (t *memTx) UpdateOrder(ctx context.Context, order *entity.Order, expectedVersion int64) error {
	base := expectedVersion
	if staged, ok := t.orders[order.ID]; ok {
		if staged.order.Version != expectedVersion {
			return ErrVersionConflict
		}
		base = staged.baseVersion
	} else {
		current, err := t.store.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}

	order.Version = expectedVersion + 1
	order.UpdatedAt = time.Now().UTC()
	t.orders[order.ID] = stagedOrder{order: order.Clone(), baseVersion: base}
	return nil
}

func (t *memTx) GetProcessedEvent(ctx context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error) {
	if record, ok := t.processed[ledgerKey{provider, eventID}]; ok {
		cp := *record
		return &cp, nil
	}
	return t.store.GetProcessedEvent(ctx, provider, eventID)
}

func (t *memTx) PutProcessedEvent(ctx context.Context, record *entity.ProcessedEvent) error {
	key := ledgerKey{record.Provider, record.ProviderEventID}
	if _, ok := t.processed[key]; ok {
		return ErrDuplicateEvent
	}
	if _, err := t.store.GetProcessedEvent(ctx, record.Provider, record.ProviderEventID); err == nil {
		return ErrDuplicateEvent
	}
	cp := *record
	t.processed[key] = &cp
	return nil
}

func (t *memTx) AppendAuditEntry(_ context.Context, entry *entity.AuditEntry) error {
	t.audit = append(t.audit, *entry)
	return nil
}
