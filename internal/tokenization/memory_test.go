package tokenization

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu       sync.Mutex
	receipts map[uuid.UUID]*WarehouseReceipt
	tokens   map[uuid.UUID]*HarvestToken // by receipt id
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		receipts: make(map[uuid.UUID]*WarehouseReceipt),
		tokens:   make(map[uuid.UUID]*HarvestToken),
	}
}

func (m *memoryRepository) CreateReceipt(ctx context.Context, receipt *WarehouseReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.receipts {
		if existing.BatchNumber == receipt.BatchNumber {
			return ErrDuplicateBatch
		}
	}
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	copied := *receipt
	m.receipts[receipt.ID] = &copied
	return nil
}

func (m *memoryRepository) GetReceipt(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memoryRepository) GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (*WarehouseReceipt, error) {
	return m.GetReceipt(ctx, id)
}

func (m *memoryRepository) UpdateReceipt(ctx context.Context, receipt *WarehouseReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.receipts[receipt.ID]; !ok {
		return ErrReceiptNotFound
	}
	copied := *receipt
	m.receipts[receipt.ID] = &copied
	return nil
}

func (m *memoryRepository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]WarehouseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []WarehouseReceipt
	for _, r := range m.receipts {
		if filter.ProducerID != nil && r.ProducerID != *filter.ProducerID {
			continue
		}
		if filter.Minted != nil && r.Minted != *filter.Minted {
			continue
		}
		if filter.Validated != nil && r.Validated != *filter.Validated {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memoryRepository) BatchExists(ctx context.Context, batchNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.receipts {
		if r.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepository) CreateToken(ctx context.Context, token *HarvestToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tokens {
		if existing.Symbol == token.Symbol || existing.ReceiptID == token.ReceiptID {
			return ErrDuplicateSymbol
		}
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	copied := *token
	m.tokens[token.ReceiptID] = &copied
	return nil
}

func (m *memoryRepository) TokenByReceipt(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[receiptID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *memoryRepository) TokenByReceiptForUpdate(ctx context.Context, receiptID uuid.UUID) (*HarvestToken, error) {
	return m.TokenByReceipt(ctx, receiptID)
}

func (m *memoryRepository) UpdateToken(ctx context.Context, token *HarvestToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[token.ReceiptID]; !ok {
		return ErrTokenNotFound
	}
	copied := *token
	m.tokens[token.ReceiptID] = &copied
	return nil
}

func (m *memoryRepository) SymbolTaken(ctx context.Context, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tokens {
		if t.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepository) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
