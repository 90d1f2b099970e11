package engine

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostalloc/memutils"
)

// CreateFlags indicate specific engine behaviors to activate or deactivate
type CreateFlags int32

type flagName struct {
	flag CreateFlags
	name string
}

var createFlagsMapping []flagName

func (f CreateFlags) Register(str string) {
	createFlagsMapping = append(createFlagsMapping, flagName{flag: f, name: str})
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := f
	for _, mapping := range createFlagsMapping {
		if f&mapping.flag == 0 {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		sb.WriteString(mapping.name)
		remaining &^= mapping.flag
	}

	if remaining != 0 {
		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		sb.WriteString("Unknown")
	}

	return sb.String()
}

const (
	// EngineCreateExternallySynchronized ensures that this engine and all heaps created from it will
	// not be synchronized internally. The consumer must guarantee that the engine is used from only one
	// goroutine at a time (including frees), but performance may improve because internal mutexes are
	// not used.
	EngineCreateExternallySynchronized CreateFlags = 1 << iota
	// EngineCreateResetFreedSegments instructs the engine to hand the pages of segments that become
	// empty back to the operating system while keeping them mapped for reuse
	EngineCreateResetFreedSegments
)

func init() {
	EngineCreateExternallySynchronized.Register("EngineCreateExternallySynchronized")
	EngineCreateResetFreedSegments.Register("EngineCreateResetFreedSegments")
}

const (
	// MinAlignment is the alignment of every block handed out by the engine, regardless of the
	// alignment requested
	MinAlignment uint = 16

	// defaultSegmentSize is the value used as Options.SegmentSize when none is provided. It is
	// equal to 4Mb.
	defaultSegmentSize int = 4 * 1024 * 1024
	minSegmentSize     int = 64 * 1024

	defaultCachedSegmentCount   int = 1
	defaultDeferredFreeInterval int = 1024
)

// Options contains optional settings when creating an engine. It is valid to leave all fields blank.
type Options struct {
	// Flags indicates specific engine behaviors to activate or deactivate
	Flags CreateFlags
	// SegmentSize is the size of each region that is mapped from the operating system and carved into
	// small allocations. It must be a power of two no smaller than 64Kb.
	SegmentSize int
	// HugeThreshold is the largest request that will be placed inside a shared segment. Larger requests
	// receive a mapping of their own. It defaults to one eighth of the segment size and may not exceed
	// half of it.
	HugeThreshold int
	// CachedSegmentCount is the number of empty segments each heap keeps mapped for reuse. Use -1 to
	// release every empty segment immediately.
	CachedSegmentCount int
	// MemoryLimit is the maximum number of bytes the engine will map from the operating system, or 0 for
	// no limit. Allocations that would exceed it fail as though the system were out of memory.
	MemoryLimit int
	// DeferredFreeInterval is the number of allocations between calls to the deferred free callback.
	// Use -1 to only call it during Collect.
	DeferredFreeInterval int
}

func (o Options) resolve() (Options, error) {
	if o.SegmentSize == 0 {
		o.SegmentSize = defaultSegmentSize
	}

	err := memutils.CheckPow2(o.SegmentSize, "engine.Options.SegmentSize")
	if err != nil {
		return o, err
	}

	if o.SegmentSize < minSegmentSize {
		return o, errors.Newf("engine.Options.SegmentSize must be at least %d, but was %d", minSegmentSize, o.SegmentSize)
	}

	if o.HugeThreshold == 0 {
		o.HugeThreshold = o.SegmentSize / 8
	}

	if o.HugeThreshold < int(MinAlignment) || o.HugeThreshold > o.SegmentSize/2 {
		return o, errors.Newf("engine.Options.HugeThreshold must be between %d and %d, but was %d", MinAlignment, o.SegmentSize/2, o.HugeThreshold)
	}
	o.HugeThreshold = memutils.AlignDown(o.HugeThreshold, MinAlignment)

	if o.CachedSegmentCount == 0 {
		o.CachedSegmentCount = defaultCachedSegmentCount
	} else if o.CachedSegmentCount < 0 {
		o.CachedSegmentCount = 0
	}

	if o.MemoryLimit < 0 {
		return o, errors.Newf("engine.Options.MemoryLimit must not be negative, but was %d", o.MemoryLimit)
	}

	if o.DeferredFreeInterval == 0 {
		o.DeferredFreeInterval = defaultDeferredFreeInterval
	} else if o.DeferredFreeInterval < 0 {
		o.DeferredFreeInterval = 0
	}

	return o, nil
}
