package annotate

import "fmt"

// State is the position of one chunk in its processing state machine:
//
//	Pending -> CacheHit -> Success
//	Pending -> Annotating -> Success
//	Pending -> Annotating -> ShrinkFallback -> Success
//	Pending -> Annotating [-> ShrinkFallback] -> TerminalFailure
type State int

const (
	StatePending State = iota
	StateCacheHit
	StateAnnotating
	StateShrinkFallback
	StateSuccess
	StateTerminalFailure
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCacheHit:
		return "cache_hit"
	case StateAnnotating:
		return "annotating"
	case StateShrinkFallback:
		return "shrink_fallback"
	case StateSuccess:
		return "success"
	case StateTerminalFailure:
		return "terminal_failure"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateTerminalFailure
}

var transitions = map[State][]State{
	StatePending:        {StateCacheHit, StateAnnotating},
	StateCacheHit:       {StateSuccess},
	StateAnnotating:     {StateSuccess, StateShrinkFallback, StateTerminalFailure},
	StateShrinkFallback: {StateSuccess, StateTerminalFailure},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is reported to the Progress callback on every transition.
type Event struct {
	Chunk int
	Total int
	State State
	// Label is the attempt label for annotating states, empty otherwise.
	Label string
	Err   error
}

type Progress func(Event)

// ChunkError is the terminal failure of one chunk.
type ChunkError struct {
	Index int
	Err   error
	// Dump is the archived candidate of the last rejected attempt, if any.
	Dump string
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error    { return e.Err }
func (e *ChunkError) ChunkIndex() int  { return e.Index }
func (e *ChunkError) DumpPath() string { return e.Dump }
