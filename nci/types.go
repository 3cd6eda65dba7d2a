package nci

// RFProtocol represents the NFC protocol type
type RFProtocol uint8

// RF Protocol constants
const (
	RFProtocolUnknown RFProtocol = 0x00
	RFProtocolT2T     RFProtocol = 0x02 // Type 2 Tag (MIFARE Ultralight)
	RFProtocolISODEP  RFProtocol = 0x04 // ISO14443-4
)

// String returns the string representation of the RF protocol
func (p RFProtocol) String() string {
	switch p {
	case RFProtocolISODEP:
		return "ISO14443-4"
	case RFProtocolT2T:
		return "T2T"
	default:
		return "Unknown"
	}
}

// Tag represents an activated NFC tag
type Tag struct {
	RFProtocol RFProtocol
	ID         []byte
}

// TagEventType represents the type of tag event
type TagEventType int

const (
	// TagArrival indicates a tag has been activated
	TagArrival TagEventType = iota
	// TagDeparture indicates the tag has been deactivated
	TagDeparture
)

// String returns the string representation of the event type
func (t TagEventType) String() string {
	if t == TagArrival {
		return "arrival"
	}
	return "departure"
}

// TagEvent represents a tag arrival or departure event
type TagEvent struct {
	Type TagEventType
	Tag  *Tag
}
