/*
Package catalog is the package-catalog collaborator of the hierarchy core.

The core never validates catalog data; it only consumes a cost and a
duration when a subscriber activation charges a reseller. The full catalog
service (channels, OTT titles, bouquet management) lives elsewhere; this
package defines the narrow interface the core depends on, an in-memory
implementation for tests and demos, and a default package set. The SQLite
store also satisfies Catalog from its packages table.
*/
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Package is one subscribable plan.
type Package struct {
	ID   string
	Name string
	// Cost is charged to the reseller on activation/renewal, in the
	// service currency's whole units.
	Cost decimal.Decimal
	// DurationDays is how long one activation extends the subscription.
	DurationDays int
	CreatedAt    time.Time
}

// Catalog supplies package pricing to the core.
// GetPackage returns (nil, nil) when the package does not exist.
type Catalog interface {
	GetPackage(ctx context.Context, id string) (*Package, error)
	ListPackages(ctx context.Context) ([]Package, error)
}

// =============================================================================
// MEMORY CATALOG
// =============================================================================

// Memory is a mutex-guarded in-memory Catalog.
type Memory struct {
	mu   sync.RWMutex
	pkgs map[string]Package
}

func NewMemory(pkgs ...Package) *Memory {
	m := &Memory{pkgs: make(map[string]Package, len(pkgs))}
	for _, p := range pkgs {
		m.pkgs[p.ID] = p
	}
	return m
}

func (m *Memory) SavePackage(_ context.Context, p Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pkgs[p.ID] = p
	return nil
}

func (m *Memory) GetPackage(_ context.Context, id string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pkgs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPackages(_ context.Context) ([]Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Package, 0, len(m.pkgs))
	for _, p := range m.pkgs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DefaultPackages is the seed set used by demos and fresh installs.
func DefaultPackages() []Package {
	return []Package{
		{ID: "pkg-basic", Name: "Basic", Cost: decimal.NewFromInt(250), DurationDays: 30},
		{ID: "pkg-family", Name: "Family", Cost: decimal.NewFromInt(450), DurationDays: 30},
		{ID: "pkg-sports-annual", Name: "Sports Annual", Cost: decimal.NewFromInt(4800), DurationDays: 365},
	}
}
