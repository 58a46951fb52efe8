// Package billing owns the plan registry and turns Stripe billing events into
// tenant plan writes.
package billing

import (
	"fmt"
	"sort"

	"tenantgate/internal/types"
)

// Limits are the per-plan quotas enforced by the API. Zero means unlimited.
type Limits struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	MaxKeys           int `json:"max_keys" yaml:"max_keys"`
}

// PlanDefinition describes one tier.
type PlanDefinition struct {
	Code          types.PlanCode `json:"code" yaml:"code"`
	RetentionDays int            `json:"retention_days" yaml:"retention_days"`
	Limits        Limits         `json:"limits" yaml:"limits"`
}

// Entitlements is what a tenant on a given plan is allowed.
type Entitlements struct {
	Plan          types.PlanCode `json:"plan"`
	RetentionDays int            `json:"retention_days"`
	Limits        Limits         `json:"limits"`
}

// DefaultPlans is the built-in plan table used when no plans file is
// configured.
func DefaultPlans() []PlanDefinition {
	return []PlanDefinition{
		{Code: types.PlanFree, RetentionDays: 7, Limits: Limits{RequestsPerMinute: 60, MaxKeys: 2}},
		{Code: types.PlanPro, RetentionDays: 30, Limits: Limits{RequestsPerMinute: 600, MaxKeys: 10}},
		{Code: types.PlanEnterprise, RetentionDays: 365, Limits: Limits{RequestsPerMinute: 6000, MaxKeys: 0}},
	}
}

// Registry maps plan codes to entitlements and Stripe price ids to plan
// codes. It is built once at startup and never mutated, so it is safe for
// concurrent use without locking.
type Registry struct {
	plans    map[types.PlanCode]PlanDefinition
	prices   map[string]types.PlanCode
	fallback types.PlanCode
	free     Entitlements
}

// NewRegistry validates defs and prices and returns an immutable registry.
// fallback is the paid tier assigned to checkouts whose price id is unknown.
func NewRegistry(defs []PlanDefinition, prices map[string]types.PlanCode, fallback types.PlanCode) (*Registry, error) {
	r := &Registry{
		plans:    make(map[types.PlanCode]PlanDefinition, len(defs)),
		prices:   make(map[string]types.PlanCode, len(prices)),
		fallback: fallback,
	}

	for _, d := range defs {
		if d.Code == "" {
			return nil, fmt.Errorf("plan definition with empty code")
		}
		if d.RetentionDays < 1 {
			return nil, fmt.Errorf("plan %q: retention_days must be at least 1, got %d", d.Code, d.RetentionDays)
		}
		if d.Limits.MaxKeys < 0 || d.Limits.RequestsPerMinute < 0 {
			return nil, fmt.Errorf("plan %q: limits must not be negative", d.Code)
		}
		if _, dup := r.plans[d.Code]; dup {
			return nil, fmt.Errorf("plan %q defined twice", d.Code)
		}
		r.plans[d.Code] = d
	}

	free, ok := r.plans[types.PlanFree]
	if !ok {
		return nil, fmt.Errorf("plan %q must be defined", types.PlanFree)
	}
	r.free = entitlementsOf(free)

	if _, ok := r.plans[fallback]; !ok {
		return nil, fmt.Errorf("fallback plan %q is not defined", fallback)
	}
	if fallback == types.PlanFree {
		return nil, fmt.Errorf("fallback plan must be a paid tier")
	}

	for priceID, code := range prices {
		if priceID == "" {
			continue
		}
		if _, ok := r.plans[code]; !ok {
			return nil, fmt.Errorf("price %q maps to undefined plan %q", priceID, code)
		}
		r.prices[priceID] = code
	}

	return r, nil
}

func entitlementsOf(d PlanDefinition) Entitlements {
	return Entitlements{Plan: d.Code, RetentionDays: d.RetentionDays, Limits: d.Limits}
}

// EntitlementsFor returns the entitlements of code. Unknown or empty codes get
// the free plan's entitlements.
func (r *Registry) EntitlementsFor(code types.PlanCode) Entitlements {
	if d, ok := r.plans[code]; ok {
		return entitlementsOf(d)
	}
	return r.free
}

// Resolve is the strict price lookup.
func (r *Registry) Resolve(priceID string) (types.PlanCode, bool) {
	code, ok := r.prices[priceID]
	return code, ok
}

// PlanCodeForPriceID maps a price to a plan, falling back to the configured
// paid tier when the price is unknown. A customer who paid is never left on
// free because of a missing mapping.
func (r *Registry) PlanCodeForPriceID(priceID string) types.PlanCode {
	if code, ok := r.prices[priceID]; ok {
		return code
	}
	return r.fallback
}

// Has reports whether code is a defined plan.
func (r *Registry) Has(code types.PlanCode) bool {
	_, ok := r.plans[code]
	return ok
}

// Fallback returns the paid tier used for unknown checkout prices.
func (r *Registry) Fallback() types.PlanCode {
	return r.fallback
}

// Plans returns a copy of all definitions ordered by retention, then code.
func (r *Registry) Plans() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(r.plans))
	for _, d := range r.plans {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RetentionDays != out[j].RetentionDays {
			return out[i].RetentionDays < out[j].RetentionDays
		}
		return out[i].Code < out[j].Code
	})
	return out
}
