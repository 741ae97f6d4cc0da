package escrow

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*Order
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: make(map[uuid.UUID]*Order)}
}

func (m *memoryRepository) Create(ctx context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orders {
		if existing.OrderNumber == order.OrderNumber {
			return ErrDuplicateOrder
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memoryRepository) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepository) Update(ctx context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memoryRepository) List(ctx context.Context, filter OrderFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Order
	for _, order := range m.orders {
		if filter.BuyerID != nil && order.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.FarmerID != nil && order.FarmerID != *filter.FarmerID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
