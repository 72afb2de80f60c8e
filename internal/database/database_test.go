package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/enrichd/pkg/config"
)

func TestWithPoolTimeout_AppliesDeadline(t *testing.T) {
	db := &DB{config: &config.DatabaseConfig{PoolTimeout: 10 * time.Second}}

	ctx, cancel := db.withPoolTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), deadline, time.Second)
}

func TestWithPoolTimeout_ZeroLeavesContextUnbounded(t *testing.T) {
	db := &DB{config: &config.DatabaseConfig{}}

	ctx, cancel := db.withPoolTimeout(context.Background())
	defer cancel()

	_, ok := ctx.Deadline()
	assert.False(t, ok)
}

func TestWithPoolTimeout_KeepsEarlierCallerDeadline(t *testing.T) {
	db := &DB{config: &config.DatabaseConfig{PoolTimeout: time.Minute}}

	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()

	ctx, cancel := db.withPoolTimeout(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
}

func TestBuildUpsertQuery(t *testing.T) {
	batch := [][]interface{}{
		{"k1", "p1", "t1"},
		{"k2", "p2", "t2"},
	}

	query, args := buildUpsertQuery("person_cache",
		[]string{"cache_key", "payload", "checked_at"}, "cache_key", batch)

	assert.Equal(t,
		"INSERT INTO person_cache (cache_key, payload, checked_at) "+
			"VALUES ($1, $2, $3), ($4, $5, $6) "+
			"ON CONFLICT (cache_key) DO UPDATE SET "+
			"payload = EXCLUDED.payload, checked_at = EXCLUDED.checked_at",
		query)
	assert.Equal(t, []interface{}{"k1", "p1", "t1", "k2", "p2", "t2"}, args)
}

func TestBuildUpsertQuery_SingleRow(t *testing.T) {
	query, args := buildUpsertQuery("phone_blacklist",
		[]string{"phone", "added_at"}, "phone",
		[][]interface{}{{"5551234567", "t"}})

	assert.Equal(t,
		"INSERT INTO phone_blacklist (phone, added_at) VALUES ($1, $2) "+
			"ON CONFLICT (phone) DO UPDATE SET added_at = EXCLUDED.added_at",
		query)
	assert.Len(t, args, 2)
}
