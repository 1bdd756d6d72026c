package model

import "time"

// ContactData is the payload returned by the skip-trace provider for one
// property address: the owners on record and how to reach them.
type ContactData struct {
	OwnerFirstName string    `json:"owner_first_name,omitempty"`
	OwnerLastName  string    `json:"owner_last_name,omitempty"`
	OwnerFullName  string    `json:"owner_full_name,omitempty"`
	Phones         []Phone   `json:"phones,omitempty"`
	Emails         []string  `json:"emails,omitempty"`
	Addresses      []Address `json:"addresses,omitempty"` // known address history, most recent first
	Age            int       `json:"age,omitempty"`
	Deceased       bool      `json:"deceased,omitempty"`
}

// Phone is one phone number returned by the provider.
type Phone struct {
	Number       string     `json:"number"` // 10 digits
	Type         string     `json:"type,omitempty"` // "Mobile", "Landline", ...
	Carrier      string     `json:"carrier,omitempty"`
	Disconnected bool       `json:"disconnected,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// Hit reports whether the lookup produced anything usable.
func (c *ContactData) Hit() bool {
	if c == nil {
		return false
	}
	return len(c.Phones) > 0 || len(c.Emails) > 0 || len(c.Addresses) > 0
}

// EnrichmentEntry is one cached enrichment result, keyed by the normalized
// property-address fingerprint. Entries are shared across batches and
// owners; the most recent successful fetch is authoritative.
type EnrichmentEntry struct {
	Fingerprint   string      `json:"fingerprint"`
	Contact       ContactData `json:"contact"`
	FetchedAt     time.Time   `json:"fetched_at"`
	SourceBatchID string      `json:"source_batch_id"`
}

// LitigatorRecord is one blocklist entry, keyed by a name+address
// fingerprint. The list is maintained by an external administrative
// process and is read-only here.
type LitigatorRecord struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	FullName    string    `json:"full_name"`
	Street      string    `json:"street,omitempty"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	Zip         string    `json:"zip,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}
