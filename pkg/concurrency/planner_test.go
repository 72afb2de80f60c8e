package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		workload int
		unitSize int
		min      int
		max      int
		scaling  float64
		expected int
	}{
		{"full batch hits the ceiling", 200, 1, 2, 16, 1.5, 16},
		{"small workload stays above the floor", 1, 1, 2, 16, 1.5, 2},
		{"mid-size workload", 8, 1, 2, 16, 1.5, 12},
		{"chunked workload", 100, 25, 1, 8, 1.0, 4},
		{"partial chunk rounds up", 101, 25, 1, 8, 1.0, 5},
		{"empty workload", 0, 1, 2, 16, 1.5, 2},
		{"zero unit size treated as one", 10, 0, 2, 16, 1.0, 10},
		{"zero scaling clamps to floor", 4, 1, 2, 16, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.workload, tt.unitSize, tt.min, tt.max, tt.scaling)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPlan_NeverExceedsBounds(t *testing.T) {
	for workload := 0; workload <= 500; workload += 7 {
		got := Plan(workload, 1, 2, 16, 1.5)
		assert.GreaterOrEqual(t, got, 2)
		assert.LessOrEqual(t, got, 16)
	}
}

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 0, ChunkCount(0, 200))
	assert.Equal(t, 1, ChunkCount(1, 200))
	assert.Equal(t, 1, ChunkCount(200, 200))
	assert.Equal(t, 2, ChunkCount(201, 200))
	assert.Equal(t, 3, ChunkCount(450, 200))
	assert.Equal(t, 0, ChunkCount(10, 0))
}
