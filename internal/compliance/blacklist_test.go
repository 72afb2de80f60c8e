package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadforge/enrichd/pkg/types"
)

func TestBlacklist_Contains(t *testing.T) {
	b := NewBlacklist(map[string]struct{}{"5551234567": {}}, nil)

	assert.True(t, b.Contains("5551234567"))
	assert.False(t, b.Contains("5559876543"))
	assert.Equal(t, 1, b.Len())
}

func TestBlacklist_FilterOut(t *testing.T) {
	b := NewBlacklist(map[string]struct{}{"5551234567": {}}, nil)

	phones := []types.PhoneValue{
		types.NewPhoneValue("(555) 123-4567"),
		types.NewPhoneValue("(555) 987-6543"),
		{},
	}

	allowed, blocked := b.FilterOut(phones)

	assert.Len(t, allowed, 1)
	assert.Equal(t, "5559876543", allowed[0].Canonical)
	assert.Len(t, blocked, 1)
	assert.Equal(t, "5551234567", blocked[0].Canonical)
}

func TestBlacklist_FilterOut_Empty(t *testing.T) {
	b := NewBlacklist(nil, nil)

	allowed, blocked := b.FilterOut(nil)

	assert.Empty(t, allowed)
	assert.Empty(t, blocked)
}
