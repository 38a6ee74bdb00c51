package delta

// State is the position of one file transfer in the delta protocol.
type State int

const (
	Unknown State = iota
	SignatureComputed
	DeltaFetched
	DeltaApplied
	Rejected
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case SignatureComputed:
		return "signature_computed"
	case DeltaFetched:
		return "delta_fetched"
	case DeltaApplied:
		return "delta_applied"
	case Rejected:
		return "rejected"
	}
	return "invalid"
}

// Terminal reports whether the state ends a transfer within one cycle.
// Rejected only ends it once the protocol gives up.
func (s State) Terminal() bool {
	return s == DeltaApplied || s == Rejected
}
