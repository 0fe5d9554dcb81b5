package partition

import "github.com/driftline/driftline/pkg/segment"

// PendingMessage is a not-yet-offset-stamped message handed to Append.
// Timestamp of 0 means "stamp with the current time"; ID of the zero
// value means "generate a random one is the caller's job, not ours" —
// the caller (pkg/topic) is responsible for producer-supplied IDs.
type PendingMessage struct {
	ID       segment.ID
	Headers  []byte
	Payload  []byte
	Timestamp uint64
}

// ConsumeStrategyKind tags which field of ConsumeStrategy is meaningful.
type ConsumeStrategyKind uint8

const (
	StrategyOffset ConsumeStrategyKind = iota
	StrategyTimestamp
	StrategyFirst
	StrategyLast
	StrategyNext
)

// ConsumeStrategy is the tagged union spec.md §4.3 uses to resolve a
// Consume call's starting offset: {Offset(o) | Timestamp(t) | First |
// Last | Next(consumer)}.
type ConsumeStrategy struct {
	Kind     ConsumeStrategyKind
	Offset   uint64
	Ts       uint64
	Consumer ConsumerKey
}

func AtOffset(o uint64) ConsumeStrategy { return ConsumeStrategy{Kind: StrategyOffset, Offset: o} }
func AtTimestamp(ts uint64) ConsumeStrategy { return ConsumeStrategy{Kind: StrategyTimestamp, Ts: ts} }
func First() ConsumeStrategy { return ConsumeStrategy{Kind: StrategyFirst} }
func Last() ConsumeStrategy  { return ConsumeStrategy{Kind: StrategyLast} }
func Next(consumer ConsumerKey) ConsumeStrategy {
	return ConsumeStrategy{Kind: StrategyNext, Consumer: consumer}
}
