package dispatch

// State names a step of the routing state machine.
type State string

const (
	StateClassifying    State = "CLASSIFYING"
	StateCacheLookup    State = "CACHE_LOOKUP"
	StateCacheHit       State = "CACHE_HIT"
	StateDispatching    State = "DISPATCHING"
	StateCallingBackend State = "CALLING_BACKEND"
	StateRetry          State = "RETRY"
	StateNextBackend    State = "NEXT_BACKEND"
	StateSuccess        State = "SUCCESS"
	StateExhausted      State = "EXHAUSTED"
)

// Terminal reports whether s ends a route.
func (s State) Terminal() bool {
	return s == StateCacheHit || s == StateSuccess || s == StateExhausted
}
