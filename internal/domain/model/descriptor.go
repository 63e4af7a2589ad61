// Package model describes the pre-trained models the scorer serves: their
// required features, region and role in the two-phase scoring pass.
package model

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/turtacn/KidneyMatch/internal/domain/reference"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// Role orders models within a prediction run.
type Role string

const (
	RoleBaseline Role = "baseline"
	RoleFacility Role = "facility"
	RoleOther    Role = "other"
)

// ParseRole accepts baseline, facility or other, ignoring case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBaseline:
		return RoleBaseline, true
	case RoleFacility:
		return RoleFacility, true
	case RoleOther:
		return RoleOther, true
	}
	return "", false
}

// RawDescriptor is the wire shape served by the model registry.
type RawDescriptor struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Role        string                 `json:"role,omitempty"`
	Region      string                 `json:"region,omitempty"`
	Description string                 `json:"description,omitempty"`
	Accuracy    float64                `json:"accuracy,omitempty"`
	Features    []string               `json:"features"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Descriptor is a validated model with its role and region resolved.
type Descriptor struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Accuracy    float64                `json:"accuracy,omitempty"`
	Role        Role                   `json:"role"`
	Region      reference.Region       `json:"region"`
	Features    []string               `json:"features"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// HasRegion reports whether the model is tied to a region.
func (d Descriptor) HasRegion() bool { return !d.Region.IsZero() }

// RequiredFeatures returns the model's feature list with the facility
// placeholder rewritten to the region-specific baseline field.
func (d Descriptor) RequiredFeatures() []string {
	out := make([]string, len(d.Features))
	for i, f := range d.Features {
		if d.Role == RoleFacility && strings.EqualFold(f, reference.BaselinePlaceholder) {
			out[i] = d.Region.BaselineField()
			continue
		}
		out[i] = f
	}
	return out
}

// DependsOnBaseline reports whether the model consumes its region's baseline
// probability.
func (d Descriptor) DependsOnBaseline() bool {
	if d.Role != RoleFacility {
		return false
	}
	for _, f := range d.Features {
		if strings.EqualFold(f, reference.BaselinePlaceholder) {
			return true
		}
	}
	return false
}

// Resolve validates raw and resolves its role and region.  A baseline or
// facility model whose region cannot be determined, or whose name names more
// than one region, is a configuration error.
func Resolve(raw RawDescriptor) (Descriptor, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return Descriptor{}, apperrors.Configuration("model descriptor has no id")
	}
	if len(raw.Features) == 0 {
		return Descriptor{}, apperrors.Configuration("model declares no features").WithDetail("model=" + raw.ID)
	}

	d := Descriptor{
		ID:          raw.ID,
		Name:        raw.Name,
		Type:        raw.Type,
		Description: raw.Description,
		Accuracy:    raw.Accuracy,
		Role:        resolveRole(raw),
		Features:    append([]string(nil), raw.Features...),
		Parameters:  raw.Parameters,
	}
	if d.Name == "" {
		d.Name = d.ID
	}

	region, err := resolveRegion(raw)
	if err != nil {
		return Descriptor{}, err
	}
	if region.IsZero() && d.Role != RoleOther {
		return Descriptor{}, apperrors.Newf(apperrors.ErrCodeModelConfigInvalid,
			"cannot determine region of %s model %q", d.Role, d.ID)
	}
	d.Region = region
	return d, nil
}

// resolveRole prefers the explicit role, then a recognised type, then a
// role token in the name.
func resolveRole(raw RawDescriptor) Role {
	if r, ok := ParseRole(raw.Role); ok {
		return r
	}
	if r, ok := ParseRole(raw.Type); ok {
		return r
	}
	for _, tok := range tokenize(raw.Name + " " + raw.ID) {
		if r, ok := ParseRole(tok); ok && r != RoleOther {
			return r
		}
	}
	return RoleOther
}

func resolveRegion(raw RawDescriptor) (reference.Region, error) {
	if raw.Region != "" {
		r, err := reference.ParseRegion(raw.Region)
		if err != nil {
			return reference.Region{}, apperrors.Wrap(err, apperrors.ErrCodeModelConfigInvalid,
				fmt.Sprintf("model %q declares an unknown region", raw.ID))
		}
		return r, nil
	}
	for _, text := range []string{raw.Name, raw.ID} {
		r, err := InferRegion(text)
		if err != nil {
			return reference.Region{}, err
		}
		if !r.IsZero() {
			return r, nil
		}
	}
	return reference.Region{}, nil
}

// InferRegion finds the single region named by a token of text.  No match
// returns the zero Region; more than one distinct match is an error.
func InferRegion(text string) (reference.Region, error) {
	var found []reference.Region
	for _, tok := range tokenize(text) {
		for _, r := range reference.Regions() {
			if r.Matches(tok) && !containsRegion(found, r) {
				found = append(found, r)
			}
		}
	}
	switch len(found) {
	case 0:
		return reference.Region{}, nil
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, r := range found {
			names[i] = r.Name
		}
		return reference.Region{}, apperrors.Newf(apperrors.ErrCodeRegionAmbiguous,
			"%q names more than one region (%s)", text, strings.Join(names, ", "))
	}
}

func containsRegion(rs []reference.Region, r reference.Region) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
