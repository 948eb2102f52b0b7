package engine

// PrefetchState is a file's speculative-fetch state machine.
type PrefetchState int

const (
	// PrefetchOff means prefetch is disabled for this file (zero max
	// blocks configured) and never transitions away.
	PrefetchOff PrefetchState = iota
	// PrefetchOn means the file is eligible for the coordinator's
	// prefetch tick to advance it.
	PrefetchOn
	// PrefetchHold means the file's resident block count has crossed the
	// configured ceiling; prefetch backs off until it drops back down.
	PrefetchHold
	// PrefetchComplete means every block is present on disk; there is
	// nothing left to prefetch.
	PrefetchComplete
	// PrefetchStopped means Close has run (ioActive is false); prefetch
	// does not resume, since WakeUp has no effect on a closed File.
	PrefetchStopped
)

func (s PrefetchState) String() string {
	switch s {
	case PrefetchOff:
		return "off"
	case PrefetchOn:
		return "on"
	case PrefetchHold:
		return "hold"
	case PrefetchComplete:
		return "complete"
	case PrefetchStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
