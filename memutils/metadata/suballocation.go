package metadata

import "math"

type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes a single live allocation within a block
type Suballocation struct {
	Offset int
	Size   int
}
