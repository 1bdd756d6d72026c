package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchStatusTerminal(t *testing.T) {
	assert.False(t, BatchStatusMapping.Terminal())
	assert.False(t, BatchStatusProcessing.Terminal())
	assert.True(t, BatchStatusCompleted.Terminal())
	assert.True(t, BatchStatusFailedPartial.Terminal())
}

func TestRecordResultEnriched(t *testing.T) {
	tests := []struct {
		status ResultStatus
		want   bool
	}{
		{ResultEnrichedFresh, true},
		{ResultEnrichedFromCache, true},
		{ResultMatchedLitigator, false},
		{ResultSkippedInvalid, false},
		{ResultFailedExternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := RecordResult{Status: tt.status}
			assert.Equal(t, tt.want, r.Enriched())
		})
	}
}

func TestContactDataHit(t *testing.T) {
	var nilContact *ContactData
	assert.False(t, nilContact.Hit())
	assert.False(t, (&ContactData{OwnerFullName: "Ann Oakley"}).Hit())
	assert.True(t, (&ContactData{Phones: []Phone{{Number: "5035550100"}}}).Hit())
	assert.True(t, (&ContactData{Emails: []string{"ann@example.com"}}).Hit())
	assert.True(t, (&ContactData{Addresses: []Address{{Street: "12 Oak St"}}}).Hit())
}

func TestAddressEmpty(t *testing.T) {
	assert.True(t, Address{}.Empty())
	assert.False(t, Address{Zip: "97201"}.Empty())
}

func TestCanonicalFieldMaxColumns(t *testing.T) {
	assert.Equal(t, MaxPhoneColumns, FieldPhone.MaxColumns())
	assert.Equal(t, 1, FieldFirstName.MaxColumns())
	assert.Equal(t, 1, FieldCustom2.MaxColumns())
}

func TestColumnMappingHelpers(t *testing.T) {
	m := ColumnMapping{
		{Index: 0, Field: FieldFirstName},
		{Index: 1, Field: FieldPhone},
		{Index: 2, Field: FieldPhone},
		{Index: 3, Field: FieldSkip},
	}

	assert.Equal(t, []int{1, 2}, m.Assigned(FieldPhone))
	assert.Equal(t, 0, m.Column(FieldFirstName))
	assert.Equal(t, -1, m.Column(FieldEmail))
	assert.Contains(t, m.DisabledFields(), FieldFirstName)
	assert.NotContains(t, m.DisabledFields(), FieldPhone)
}
