// Package columns keeps the ordered set of dimension columns a batch's grid
// is laid out with.
package columns

import (
	"fmt"
	"strings"
	"sync"

	"salestarget/backend/internal/domain"
)

type Registry struct {
	mu      sync.RWMutex
	seq     int
	version int64
	columns []domain.Column
}

func New() *Registry {
	return &Registry{}
}

// NewDefault lays out one SKU column per SKU followed by the weekly and
// daily derived columns.
func NewDefault(skus []domain.SKU) *Registry {
	r := New()
	for _, sku := range skus {
		r.appendLocked(domain.ColumnSKU)
		r.columns[len(r.columns)-1].RefID = sku.ID
	}
	r.appendLocked(domain.ColumnWeekly)
	r.appendLocked(domain.ColumnDaily)
	return r
}

func (r *Registry) Add(kind domain.ColumnKind) (domain.Column, error) {
	kind = domain.ColumnKind(strings.ToLower(strings.TrimSpace(string(kind))))
	if !kind.Valid() {
		return domain.Column{}, domain.Invalid("kind", "unknown column kind %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind.Derived() {
		for _, c := range r.columns {
			if c.Kind == kind {
				return domain.Column{}, fmt.Errorf("%w: %s column already present", domain.ErrDuplicateDimension, kind)
			}
		}
	}
	return r.appendLocked(kind), nil
}

// SelectReference binds a ref-bound column to a reference id. No two
// columns of the same kind may hold the same reference.
func (r *Registry) SelectReference(columnID string, refID string) (domain.Column, error) {
	refID = strings.TrimSpace(refID)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(columnID)
	if idx < 0 {
		return domain.Column{}, fmt.Errorf("%w: column %s", domain.ErrNotFound, columnID)
	}
	col := r.columns[idx]
	if !col.Kind.RefBound() {
		return domain.Column{}, domain.Invalid("column_id", "%s column takes no reference", col.Kind)
	}
	if refID == "" {
		return domain.Column{}, domain.Invalid("ref_id", "required")
	}
	if col.RefID == refID {
		return col, nil
	}
	for _, other := range r.columns {
		if other.ID != columnID && other.Kind == col.Kind && other.RefID == refID {
			return domain.Column{}, fmt.Errorf("%w: %s %s already shown in column %s", domain.ErrDuplicateDimension, col.Kind, refID, other.ID)
		}
	}

	r.columns[idx].RefID = refID
	r.version++
	return r.columns[idx], nil
}

// Remove drops the column only; target rows are never touched.
func (r *Registry) Remove(columnID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(columnID)
	if idx < 0 {
		return fmt.Errorf("%w: column %s", domain.ErrNotFound, columnID)
	}
	r.columns = append(r.columns[:idx], r.columns[idx+1:]...)
	r.version++
	return nil
}

func (r *Registry) List() []domain.Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Column(nil), r.columns...)
}

func (r *Registry) Get(columnID string) (domain.Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(columnID)
	if idx < 0 {
		return domain.Column{}, false
	}
	return r.columns[idx], true
}

// Version increases on every mutation.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Fingerprint identifies the current layout for cache keys.
func (r *Registry) Fingerprint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, c := range r.columns {
		fmt.Fprintf(&b, "%s:%s:%s;", c.ID, c.Kind, c.RefID)
	}
	return b.String()
}

func (r *Registry) appendLocked(kind domain.ColumnKind) domain.Column {
	r.seq++
	col := domain.Column{ID: fmt.Sprintf("col-%d", r.seq), Kind: kind}
	r.columns = append(r.columns, col)
	r.version++
	return col
}

func (r *Registry) indexLocked(columnID string) int {
	for i, c := range r.columns {
		if c.ID == columnID {
			return i
		}
	}
	return -1
}
