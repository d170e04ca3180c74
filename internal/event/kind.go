package event

// Kind tags an event record.
//
// The four known kinds drive the counter store. Any other non-empty string is
// a custom kind that is logged and passed through; the store only counts it
// when configured to.
type Kind string

const (
	// KindRegister creates a user's counter at zero.
	KindRegister Kind = "register"
	// KindConnect records a connection opening for a user.
	KindConnect Kind = "connect"
	// KindDisconnect records a connection closing.
	KindDisconnect Kind = "disconnect"
	// KindIncrement is the default counted interaction.
	KindIncrement Kind = "increment"
)

// IsLifecycle reports whether k is emitted by the server only.
// Clients may not send lifecycle kinds as named events.
func (k Kind) IsLifecycle() bool {
	switch k {
	case KindRegister, KindConnect, KindDisconnect:
		return true
	default:
		return false
	}
}

// IsCustom reports whether k is outside the known set.
func (k Kind) IsCustom() bool {
	switch k {
	case KindRegister, KindConnect, KindDisconnect, KindIncrement:
		return false
	default:
		return true
	}
}

// String returns the tag as written to the log.
func (k Kind) String() string {
	return string(k)
}

// ParseKinds converts configured event names to kinds, skipping empty names.
func ParseKinds(names []string) []Kind {
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		kinds = append(kinds, Kind(n))
	}
	return kinds
}
