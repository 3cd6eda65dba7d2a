package nci

import (
	"fmt"
)

// NCI message types and bit positions
const (
	msgTypeBit          = 5
	msgTypeCommand      = 1
	msgTypeResponse     = 2
	msgTypeNotification = 3
)

// NCI Groups
const (
	groupCore uint8 = 0x00
	groupRF   uint8 = 0x01
)

// NCI Core commands (OID)
const (
	coreReset          uint8 = 0x00
	coreInit           uint8 = 0x01
	coreGenericError   uint8 = 0x07
	coreInterfaceError uint8 = 0x08
)

// NCI RF commands (OID)
const (
	rfDiscoverMapOID   uint8 = 0x00
	rfDiscoverOID      uint8 = 0x03
	rfIntfActivatedOID uint8 = 0x05
	rfDeactivateOID    uint8 = 0x06
)

// NCI RF protocols and interfaces
const (
	rfInterfaceFrame  uint8 = 0x01
	rfInterfaceISODEP uint8 = 0x02
)

// NCI status codes
const (
	statusOK uint8 = 0x00
)

// RF_DEACTIVATE types
const (
	deactivateIdle      uint8 = 0x00
	deactivateDiscovery uint8 = 0x03
)

// NCI RF technologies
const (
	rfTechNFCAPassivePoll uint8 = 0x00
)

const headerLen = 3

// NCI Packet Header
type header struct {
	MT     uint8
	GID    uint8
	OID    uint8
	Length uint8
}

// bytes encodes the header: [MT:3][PBF:1][GID:4] [OID:6] [LEN]
func (h header) bytes() []byte {
	return []byte{
		((h.MT & 0x07) << msgTypeBit) | (h.GID & 0x0F),
		h.OID & 0x3F,
		h.Length,
	}
}

// parseHeader parses an NCI header from raw bytes
func parseHeader(data []byte) (header, error) {
	if len(data) < headerLen {
		return header{}, fmt.Errorf("insufficient data for NCI header")
	}
	return header{
		MT:     (data[0] >> msgTypeBit) & 0x07,
		GID:    data[0] & 0x0F,
		OID:    data[1] & 0x3F,
		Length: data[2],
	}, nil
}

// command is one NCI command split into header and payload chunks
type command struct {
	gid     uint8
	oid     uint8
	payload []byte
}

func (c command) chunks() [][]byte {
	h := header{MT: msgTypeCommand, GID: c.gid, OID: c.oid, Length: uint8(len(c.payload))}
	if len(c.payload) == 0 {
		return [][]byte{h.bytes()}
	}
	return [][]byte{h.bytes(), c.payload}
}

func (c command) String() string {
	return fmt.Sprintf("%02x/%02x", c.gid, c.oid)
}

// CORE_RESET_CMD, resetting the configuration
func coreResetCmd() command {
	return command{gid: groupCore, oid: coreReset, payload: []byte{0x01}}
}

// CORE_INIT_CMD
func coreInitCmd() command {
	return command{gid: groupCore, oid: coreInit}
}

// RF_DISCOVER_CMD polling NFC-A only
func rfDiscoverCmd() command {
	return command{gid: groupRF, oid: rfDiscoverOID, payload: []byte{
		0x01,                  // Number of technologies
		rfTechNFCAPassivePoll, // NFC-A passive poll mode
		0x01,                  // Frequency
	}}
}

// RF_DISCOVER_MAP_CMD for T2T and ISO-DEP
func rfDiscoverMapCmd() command {
	return command{gid: groupRF, oid: rfDiscoverMapOID, payload: []byte{
		0x02,                   // Number of mappings
		byte(RFProtocolT2T),    // T2T
		0x01,                   // Mode = Poll
		rfInterfaceFrame,       // Frame interface
		byte(RFProtocolISODEP), // ISO-DEP
		0x01,                   // Mode = Poll
		rfInterfaceISODEP,      // ISO-DEP interface
	}}
}

// RF_DEACTIVATE_CMD
func rfDeactivateCmd(kind uint8) command {
	return command{gid: groupRF, oid: rfDeactivateOID, payload: []byte{kind}}
}

// packet is a parsed inbound NCI packet
type packet struct {
	header
	Status  uint8
	Payload []byte
}

func parsePacket(data []byte) (*packet, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < headerLen+int(h.Length) {
		return nil, fmt.Errorf("incomplete NCI packet")
	}
	body := data[headerLen : headerLen+int(h.Length)]

	// For command responses, first byte of payload is status
	if h.MT == msgTypeResponse {
		if len(body) < 1 {
			return nil, fmt.Errorf("invalid response length")
		}
		payload := make([]byte, len(body)-1)
		copy(payload, body[1:])
		return &packet{header: h, Status: body[0], Payload: payload}, nil
	}

	payload := make([]byte, len(body))
	copy(payload, body)
	return &packet{header: h, Status: statusOK, Payload: payload}, nil
}

// parseRFIntfActivatedNtf extracts tag info from an RF_INTF_ACTIVATED
// notification payload
func parseRFIntfActivatedNtf(data []byte) (*Tag, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("invalid RF_INTF_ACTIVATED_NTF length")
	}

	rfProtocol := RFProtocol(data[2])
	rfTechnology := data[3]

	switch rfProtocol {
	case RFProtocolT2T, RFProtocolISODEP:
	default:
		return nil, fmt.Errorf("unsupported protocol: %02x", byte(rfProtocol))
	}

	if rfTechnology != rfTechNFCAPassivePoll {
		return nil, fmt.Errorf("unsupported RF technology: %02x", rfTechnology)
	}

	techParamsLen := int(data[6])
	if len(data) < 7+techParamsLen {
		return nil, fmt.Errorf("invalid tech params length")
	}
	// NFC-A tech params: SENS_RES (2) + NFCID1 Len (1) + NFCID1 + SEL_RES Len + SEL_RES
	if techParamsLen < 3 {
		return nil, fmt.Errorf("tech params too short for NFC-A")
	}
	nfcid1Len := int(data[9])
	if 3+nfcid1Len > techParamsLen {
		return nil, fmt.Errorf("invalid NFCID1 length")
	}
	uid := make([]byte, nfcid1Len)
	copy(uid, data[10:10+nfcid1Len])
	return &Tag{RFProtocol: rfProtocol, ID: uid}, nil
}
