package model

// TLPType classifies a transaction layer packet by its fmt/type header bits.
type TLPType uint8

const (
	TLPMemory TLPType = iota
	TLPIO
	TLPConfig
	TLPCompletion
	TLPMessage
)

// String returns the short mnemonic used in logs and the TUI.
func (t TLPType) String() string {
	switch t {
	case TLPMemory:
		return "Mem"
	case TLPIO:
		return "IO"
	case TLPConfig:
		return "Cfg"
	case TLPCompletion:
		return "Cpl"
	case TLPMessage:
		return "Msg"
	default:
		return "Unknown"
	}
}

// TLPHeader holds the decoded header fields of a transaction layer packet.
// Address is meaningful for memory/IO/config requests, CplStatus for
// completions.
type TLPHeader struct {
	Type         TLPType
	IsWrite      bool
	Is4DW        bool
	TrafficClass uint8
	RequesterID  uint16
	Tag          uint8
	Address      uint64
	CplStatus    uint8
	Length       uint16 // payload length in bytes
}

// TLPRecord is a single captured transaction layer packet. Seq is assigned
// when the record is accepted into the ring buffer and is strictly increasing
// and gap-free within a session. Timestamp is the link cycle counter value at
// the frame's start symbol. Records are read-only once buffered.
type TLPRecord struct {
	Seq       uint64
	Timestamp uint64
	Header    TLPHeader
	Payload   []byte
	Valid     bool
}

// EntryKind distinguishes real records from in-band overflow markers.
type EntryKind uint8

const (
	EntryRecord EntryKind = iota
	EntryOverflow
)

// Entry is a single slot of the capture buffer: either a TLP record or an
// overflow marker covering the sequence range [GapFirst, GapLast] that was
// dropped or rejected.
type Entry struct {
	Kind     EntryKind
	Record   *TLPRecord
	GapFirst uint64
	GapLast  uint64
}

// LinkStatus reflects the state of the tapped PCIe link as reported by the
// physical layer collaborator. The capture engine never owns or changes it.
type LinkStatus struct {
	Up    bool
	Lanes uint8
	Speed uint8 // generation: 1 = 2.5 GT/s, 2 = 5.0 GT/s
}

// SessionStats counts per-session pipeline activity. All counters reset on
// arm.
type SessionStats struct {
	Framed    uint64 // TLPs reconstructed by the framer, valid or not
	Malformed uint64 // frames emitted with Valid=false
	DLLPs     uint64 // data link layer packets skipped
	Ignored   uint64 // records dropped by an ignore rule
	Captured  uint64 // records accepted into the ring buffer
	Dropped   uint64 // records evicted under the overwrite policy
	Rejected  uint64 // records refused under the stop-on-full policy
	Exported  uint64 // highest sequence number acknowledged by the host
}
