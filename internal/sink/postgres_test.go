package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/enrichd/pkg/types"
)

func TestPostgresSink_BuildRow(t *testing.T) {
	s := NewPostgresSink(nil, "enriched_leads", 500)
	now := time.Now().UTC()

	rec := types.EnrichedRecord{
		Candidate: types.Candidate{
			FirstName: "Jane",
			LastName:  "Doe",
			Address:   "123 Main St",
			City:      "Springfield",
			State:     "IL",
			Zip:       "62704",
		},
		Enrichment: types.EnrichmentResult{
			IdentityKey: "abc123",
			Phones: []types.PhoneValue{
				types.NewPhoneValue("(555) 123-4567"),
				types.NewPhoneValue("5559876543"),
			},
			Emails: []string{"jane@example.com"},
			Status: types.LookupStatusSuccess,
		},
		Flags: types.ComplianceFlags{
			InLitigatorList: true,
			PhoneDNC:        [3]bool{false, true, false},
		},
	}

	row, err := s.buildRow("job-1", &rec, now)

	require.NoError(t, err)
	require.Len(t, row, len(resultColumns))
	assert.Equal(t, "abc123", row[0])
	assert.Equal(t, "job-1", row[1])
	assert.Equal(t, "Jane", row[2])
	assert.Equal(t, "(555) 123-4567", row[8])
	assert.Equal(t, "5559876543", row[9])
	assert.Equal(t, "", row[10])
	assert.Equal(t, `["jane@example.com"]`, row[11])
	assert.Equal(t, true, row[12])
	assert.Equal(t, false, row[13])
	assert.Equal(t, true, row[14])
	assert.Equal(t, false, row[15])
	assert.Equal(t, "success", row[16])
	assert.Equal(t, now, row[18])
}

func TestPostgresSink_BuildRow_NoContacts(t *testing.T) {
	s := NewPostgresSink(nil, "enriched_leads", 500)

	rec := types.EnrichedRecord{
		Enrichment: types.EnrichmentResult{
			IdentityKey: "abc123",
			Status:      types.LookupStatusError,
			Error:       "lookup failed",
		},
	}

	row, err := s.buildRow("job-1", &rec, time.Now().UTC())

	require.NoError(t, err)
	assert.Equal(t, "", row[8])
	assert.Equal(t, "null", row[11])
	assert.Equal(t, "error", row[16])
	assert.Equal(t, "lookup failed", row[17])
}
