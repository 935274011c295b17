package model

// Action is the disposition a filter rule assigns to a matching record.
type Action uint8

const (
	ActionCapture Action = iota
	ActionIgnore
	ActionTrigger
)

// String returns the config/API spelling of the action.
func (a Action) String() string {
	switch a {
	case ActionCapture:
		return "capture"
	case ActionIgnore:
		return "ignore"
	case ActionTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// FilterRule is a predicate over TLP header fields with an associated
// action. A zero/nil field is a wildcard. Rules are immutable once a session
// is armed.
type FilterRule struct {
	Name        string
	Types       []TLPType // empty matches any type
	AddrLo      uint64    // address window; both zero matches any address
	AddrHi      uint64
	RequesterID *uint16
	Tag         *uint8
	Action      Action
}

// Matches reports whether the rule's predicate holds for the record's
// header. Each field check is constant time, so a rule list scan is bounded
// by the list length.
func (r *FilterRule) Matches(rec *TLPRecord) bool {
	h := &rec.Header
	if len(r.Types) > 0 {
		found := false
		for _, t := range r.Types {
			if h.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.AddrLo != 0 || r.AddrHi != 0 {
		if h.Address < r.AddrLo || h.Address > r.AddrHi {
			return false
		}
	}
	if r.RequesterID != nil && h.RequesterID != *r.RequesterID {
		return false
	}
	if r.Tag != nil && h.Tag != *r.Tag {
		return false
	}
	return true
}
