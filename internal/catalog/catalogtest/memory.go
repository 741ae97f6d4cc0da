// Package catalogtest provides an in-memory catalog repository for package tests
package catalogtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/catalog"
)

// MemoryRepository implements catalog.Repository over maps
type MemoryRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]*catalog.Product
	offers   map[uuid.UUID]*catalog.Offer
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[uuid.UUID]*catalog.Product),
		offers:   make(map[uuid.UUID]*catalog.Offer),
	}
}

// AddProduct stores a product and returns its id
func (m *MemoryRepository) AddProduct(p catalog.Product) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.products[p.ID] = &p
	return p.ID
}

// AddOffer stores an offer and returns its id
func (m *MemoryRepository) AddOffer(o catalog.Offer) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.offers[o.ID] = &o
	return o.ID
}

func (m *MemoryRepository) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *MemoryRepository) GetOffer(ctx context.Context, id uuid.UUID) (*catalog.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok {
		return nil, catalog.ErrOfferNotFound
	}
	copied := *o
	if p, ok := m.products[o.ProductID]; ok {
		product := *p
		copied.Product = &product
	}
	return &copied, nil
}

func (m *MemoryRepository) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*catalog.Offer, error) {
	return m.GetOffer(ctx, id)
}

func (m *MemoryRepository) UpdateOffer(ctx context.Context, offer *catalog.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[offer.ID]; !ok {
		return catalog.ErrOfferNotFound
	}
	copied := *offer
	copied.Product = nil
	m.offers[offer.ID] = &copied
	return nil
}

func (m *MemoryRepository) ListOffers(ctx context.Context, status *catalog.OfferStatus, farmerID *uuid.UUID) ([]catalog.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []catalog.Offer
	for _, o := range m.offers {
		if status != nil && o.Status != *status {
			continue
		}
		if farmerID != nil && o.FarmerID != *farmerID {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}
