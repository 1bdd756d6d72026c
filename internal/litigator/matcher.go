// Package litigator matches records against the litigator blocklist.
// A match takes precedence over enrichment: downstream consumers must
// never contact a listed litigator.
package litigator

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/normalize"
)

// Provider is a read-only lookup into the blocklist, keyed by the
// name+address fingerprint. store.Store satisfies it. The list is
// maintained by an out-of-band administrative process and may lag it.
type Provider interface {
	GetLitigator(ctx context.Context, fingerprint string) (*model.LitigatorRecord, error)
}

// Matcher checks canonical records against a blocklist Provider.
type Matcher struct {
	provider Provider
}

// NewMatcher creates a Matcher.
func NewMatcher(provider Provider) *Matcher {
	return &Matcher{provider: provider}
}

// Match returns the blocklist entry for the record's owner at its
// property address, or nil. The key uses last name plus first initial
// so minor name formatting differences still match, while unrelated
// people at the same address do not.
func (m *Matcher) Match(ctx context.Context, rec model.CanonicalRecord) (*model.LitigatorRecord, error) {
	fp := normalize.NameAddressFingerprint(rec.FirstName, rec.LastName, rec.Property)
	if fp == "" {
		return nil, nil
	}
	hit, err := m.provider.GetLitigator(ctx, fp)
	if err != nil {
		return nil, eris.Wrap(err, "litigator: lookup")
	}
	return hit, nil
}
