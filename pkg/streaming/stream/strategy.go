package stream

import (
	"gopkg.in/guregu/null.v3"

	"github.com/vnykmshr/webstreams/pkg/common/validation"
)

// DefaultHighWaterMark is used when a strategy leaves HighWaterMark unset.
const DefaultHighWaterMark = 1

// StrategyKind identifies how a strategy measures chunks.
type StrategyKind uint8

const (
	// StrategyCount counts every chunk as 1.
	StrategyCount StrategyKind = iota + 1
	// StrategyByteLength measures chunks by their length in bytes.
	StrategyByteLength
	// StrategyUserDefined measures chunks with a caller-provided function.
	StrategyUserDefined
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyCount:
		return "count"
	case StrategyByteLength:
		return "byte_length"
	case StrategyUserDefined:
		return "user_defined"
	default:
		return "unknown"
	}
}

// QueuingStrategy controls how much a stream buffers before it signals
// backpressure.
//
// HighWaterMark is the total size the queue may reach before desired size
// drops to zero. Size measures a single chunk; nil counts each chunk as 1.
type QueuingStrategy[T any] struct {
	HighWaterMark null.Float
	Size          func(chunk T) float64

	kind StrategyKind
}

// CountQueuingStrategy buffers up to highWaterMark chunks.
func CountQueuingStrategy[T any](highWaterMark float64) QueuingStrategy[T] {
	return QueuingStrategy[T]{
		HighWaterMark: null.FloatFrom(highWaterMark),
		kind:          StrategyCount,
	}
}

// ByteLengthQueuingStrategy buffers up to highWaterMark bytes.
func ByteLengthQueuingStrategy[T ~[]byte | ~string](highWaterMark float64) QueuingStrategy[T] {
	return QueuingStrategy[T]{
		HighWaterMark: null.FloatFrom(highWaterMark),
		Size:          func(chunk T) float64 { return float64(len(chunk)) },
		kind:          StrategyByteLength,
	}
}

// Kind reports how the strategy measures chunks.
func (s QueuingStrategy[T]) Kind() StrategyKind {
	switch {
	case s.kind != 0:
		return s.kind
	case s.Size == nil:
		return StrategyCount
	default:
		return StrategyUserDefined
	}
}

func (s QueuingStrategy[T]) highWaterMark() (float64, error) {
	if !s.HighWaterMark.Valid {
		return DefaultHighWaterMark, nil
	}
	hwm := s.HighWaterMark.Float64
	if err := validation.ValidateNonNegative("stream", "highWaterMark", hwm); err != nil {
		return 0, newRangeError("invalid high-water mark", err)
	}
	return hwm, nil
}

func (s QueuingStrategy[T]) sizeAlgorithm() func(T) float64 {
	if s.Size == nil {
		return func(T) float64 { return 1 }
	}
	return s.Size
}
