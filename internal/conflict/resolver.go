// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package conflict decides what happens when an incoming event matches an
// existing catalog event.
package conflict

import (
	"github.com/tomtom215/eventfold/internal/models"
)

// Decision is the outcome of resolving a matched pair.
type Decision string

const (
	// KeepExisting leaves the catalog record unchanged.
	KeepExisting Decision = "keep_existing"
	// Replace overwrites the catalog record with the incoming data.
	Replace Decision = "replace"
	// Merge is reserved for field-level reconciliation and is applied
	// exactly like Replace.
	Merge Decision = "merge"
)

// Writes reports whether the decision results in a catalog update.
func (d Decision) Writes() bool {
	return d == Replace || d == Merge
}

// Resolver applies the source-priority policy.
type Resolver struct {
	authoritative string
}

// NewResolver creates a Resolver treating the named source as authoritative.
// An empty name disables the authoritative rules.
func NewResolver(authoritativeSource string) *Resolver {
	return &Resolver{authoritative: authoritativeSource}
}

// AuthoritativeSource returns the configured authoritative source name.
func (r *Resolver) AuthoritativeSource() string {
	return r.authoritative
}

// Resolve evaluates the policy in order:
//  1. incoming is authoritative and existing is not: Replace
//  2. existing is authoritative and incoming is not: KeepExisting
//  3. same source: Replace (an update of the same upstream record)
//  4. otherwise: KeepExisting
func (r *Resolver) Resolve(incoming *models.NormalizedEvent, existing *models.CatalogEvent) Decision {
	inAuth := r.isAuthoritative(incoming.Source)
	exAuth := r.isAuthoritative(existing.Source)

	switch {
	case inAuth && !exAuth:
		return Replace
	case exAuth && !inAuth:
		return KeepExisting
	case incoming.Source == existing.Source:
		return Replace
	default:
		return KeepExisting
	}
}

func (r *Resolver) isAuthoritative(source string) bool {
	return r.authoritative != "" && source == r.authoritative
}
