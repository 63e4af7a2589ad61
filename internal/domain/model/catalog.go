package model

import (
	"sort"

	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Catalog is the validated, immutable set of models for a session.
type Catalog struct {
	models []Descriptor
	byID   map[string]int
}

// NewCatalog resolves every raw descriptor and checks cross-model
// constraints: unique ids, and a baseline model for the region of every
// facility model that consumes a baseline probability.  Any failure aborts.
func NewCatalog(raws []RawDescriptor) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(raws))}
	for _, raw := range raws {
		d, err := Resolve(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, apperrors.Newf(apperrors.ErrCodeModelAlreadyRegistered, "duplicate model id %q", d.ID)
		}
		c.byID[d.ID] = len(c.models)
		c.models = append(c.models, d)
	}

	baselines := make(map[reference.Region]bool)
	for _, d := range c.models {
		if d.Role == RoleBaseline {
			baselines[d.Region] = true
		}
	}
	for _, d := range c.models {
		if d.DependsOnBaseline() && !baselines[d.Region] {
			return nil, apperrors.Newf(apperrors.ErrCodeBaselineMissing,
				"facility model %q requires a %s baseline model", d.ID, d.Region.Name)
		}
	}
	return c, nil
}

// Len returns the number of models.
func (c *Catalog) Len() int { return len(c.models) }

// All returns every model in registration order.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Get returns the model with id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return c.models[i], true
}

// ByRole returns the models with role, in registration order.
func (c *Catalog) ByRole(role Role) []Descriptor {
	var out []Descriptor
	for _, d := range c.models {
		if d.Role == role {
			out = append(out, d)
		}
	}
	return out
}

// Select returns the models named by ids, or every model when ids is empty.
// Unknown ids are an error.  The result keeps registration order.
func (c *Catalog) Select(ids []string) ([]Descriptor, error) {
	if len(ids) == 0 {
		return c.All(), nil
	}
	idx := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		i, ok := c.byID[id]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %q not found", id)
		}
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	out := make([]Descriptor, len(idx))
	for j, i := range idx {
		out[j] = c.models[i]
	}
	return out, nil
}
