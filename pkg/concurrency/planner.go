// Package concurrency sizes worker pools for remote-call fan-out. The same
// formula is reused for every call type with type-specific constants, so tiny
// batches are not over-threaded and large ones are not starved.
package concurrency

import "math"

// Plan computes a bounded worker count for a workload.
//
//	workers = clamp(ceil(workloadSize/unitSize) * scalingFactor, min, max)
//
// It is a pure function: no state, no I/O.
func Plan(workloadSize, unitSize, min, max int, scalingFactor float64) int {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if workloadSize <= 0 {
		return min
	}
	if unitSize < 1 {
		unitSize = 1
	}

	units := int(math.Ceil(float64(workloadSize) / float64(unitSize)))
	workers := int(math.Ceil(float64(units) * scalingFactor))

	if workers < min {
		return min
	}
	if workers > max {
		return max
	}
	return workers
}

// ChunkCount returns the number of size-bounded chunks a workload splits into.
func ChunkCount(workloadSize, chunkSize int) int {
	if workloadSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return (workloadSize + chunkSize - 1) / chunkSize
}
