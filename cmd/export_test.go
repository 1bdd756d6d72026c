package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propflow/skiptrace-cli/internal/model"
)

func TestExportRowFrom_Enriched(t *testing.T) {
	res := model.RecordResult{
		RowNumber: 4,
		Status:    model.ResultEnrichedFresh,
		Tagged:    true,
		Duplicate: true,
		Enrichment: &model.ContactData{
			OwnerFirstName: "Ann",
			OwnerLastName:  "Oakley",
			Phones: []model.Phone{
				{Number: "5035550100", Type: "Mobile"},
				{Number: "5035550101", Disconnected: true},
				{Number: "5035550102"},
				{Number: "5035550103"},
				{Number: "5035550104"},
			},
			Emails: []string{"ann@example.com", "a.oakley@example.com"},
			Addresses: []model.Address{
				{Street: "12 Oak St", City: "Portland", State: "OR", Zip: "97201"},
				{Street: "9 Elm Ave", City: "Salem", State: "OR", Zip: "97301"},
			},
		},
	}

	row := exportRowFrom(res)
	assert.Equal(t, 4, row.RowNumber)
	assert.Equal(t, "enriched_fresh", row.Status)
	assert.Equal(t, "Ann", row.OwnerFirstName)
	assert.Equal(t, "Oakley", row.OwnerLastName)
	// Disconnected numbers are dropped; the first three live ones export.
	assert.Equal(t, "5035550100", row.Phone1)
	assert.Equal(t, "5035550102", row.Phone2)
	assert.Equal(t, "5035550103", row.Phone3)
	assert.Equal(t, "ann@example.com; a.oakley@example.com", row.Emails)
	assert.Equal(t, "12 Oak St, Portland, OR 97201", row.LastKnownAddr)
	assert.True(t, row.Tagged)
	assert.True(t, row.Duplicate)
}

func TestExportRowFrom_NoEnrichment(t *testing.T) {
	res := model.RecordResult{
		RowNumber: 7,
		Status:    model.ResultSkippedInvalid,
		Reason:    "address not found",
	}

	row := exportRowFrom(res)
	assert.Equal(t, "skipped_invalid", row.Status)
	assert.Equal(t, "address not found", row.Reason)
	assert.Empty(t, row.Phone1)
	assert.Empty(t, row.OwnerFullName)
	assert.False(t, row.Tagged)
}
