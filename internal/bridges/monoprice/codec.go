package monoprice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twolfekc/monozone-pi/internal/zone"
)

// Wire framing constants.
const (
	// zoneAddrOffset converts a zone number to its wire address
	// (zone 1 = address 11).
	zoneAddrOffset = 10

	// minZone and maxZone bound the zone numbers this amplifier model
	// supports. Larger installations daisy-chain units; each unit still
	// addresses zones 11-16 on its own serial port.
	minZone = 1
	maxZone = 6

	// terminator ends every command and response line.
	terminator = '\r'

	// statusBodyLen is the digit count of a full status response after
	// the ">ZZ" prefix: ten two-digit fields.
	statusBodyLen = 20

	// ackBodyLen is the length of a set echo after ">": ZZ + CC + VV.
	ackBodyLen = 6
)

// statusFieldOrder is the fixed field layout of a status response body,
// in wire order: >ZZ PA PR MU DT VO TR BS BL CH LS.
var statusFieldOrder = []zone.Attribute{
	zone.AttrPA,
	zone.AttrPower,
	zone.AttrMute,
	zone.AttrDND,
	zone.AttrVolume,
	zone.AttrTreble,
	zone.AttrBass,
	zone.AttrBalance,
	zone.AttrSource,
	zone.AttrKeypad,
}

// FrameKind classifies a decoded inbound line.
type FrameKind string

const (
	// FrameStatus is a full zone status response (solicited or pushed).
	FrameStatus FrameKind = "status"

	// FrameAck is a set-command echo confirming a single attribute.
	FrameAck FrameKind = "ack"

	// FrameUnparsed is a line the codec does not recognise. The read
	// loop logs and counts these; they never tear down the connection.
	FrameUnparsed FrameKind = "unparsed"
)

// Frame is one decoded inbound line.
//
// For FrameAck, Zone/Attr/Value identify the confirmed attribute.
// For FrameStatus, Zone and Status carry the full snapshot.
// For FrameUnparsed only Raw is meaningful.
type Frame struct {
	Kind FrameKind
	Raw  string

	Zone  int
	Attr  zone.Attribute
	Value int

	Status *zone.Status
}

// EncodeSet encodes a set command for one zone attribute.
//
// The value must already be inside the attribute's valid domain: the
// codec rejects out-of-domain values rather than clamping, so that
// decode(encode(x)) always reproduces x exactly.
//
// Parameters:
//   - zoneID: zone number (1-6)
//   - attr: writable attribute
//   - value: raw wire value within the attribute's domain
//
// Returns:
//   - []byte: the command line including the trailing CR
//   - error: ErrEncoding if the zone, attribute or value is invalid
func EncodeSet(zoneID int, attr zone.Attribute, value int) ([]byte, error) {
	if zoneID < minZone || zoneID > maxZone {
		return nil, fmt.Errorf("%w: zone %d out of range %d-%d", ErrEncoding, zoneID, minZone, maxZone)
	}
	spec, ok := attributeTable[attr]
	if !ok || !spec.Writable {
		return nil, fmt.Errorf("%w: attribute %q is not writable", ErrEncoding, attr)
	}
	if value < spec.Min || value > spec.Max {
		return nil, fmt.Errorf("%w: %s value %d outside domain %d-%d",
			ErrEncoding, attr, value, spec.Min, spec.Max)
	}

	cmd := fmt.Sprintf("<%02d%s%02d%c", zoneID+zoneAddrOffset, spec.Code, value, terminator)
	return []byte(cmd), nil
}

// EncodeQuery encodes a full-status query for one zone.
//
// Returns:
//   - []byte: the query line including the trailing CR
//   - error: ErrEncoding if the zone is out of range
func EncodeQuery(zoneID int) ([]byte, error) {
	if zoneID < minZone || zoneID > maxZone {
		return nil, fmt.Errorf("%w: zone %d out of range %d-%d", ErrEncoding, zoneID, minZone, maxZone)
	}
	return []byte(fmt.Sprintf("?%02d%c", zoneID+zoneAddrOffset, terminator)), nil
}

// Decode parses one inbound line (without the trailing CR).
//
// Decode never fails: lines it cannot interpret are returned as
// FrameUnparsed so the read loop can log and continue. The iTach echoes
// outbound commands and occasionally prefixes noise, so anything before
// the '>' marker is ignored.
func Decode(line string) Frame {
	raw := strings.TrimSpace(line)

	// Responses start at the '>' marker; ignore any echo prefix.
	idx := strings.IndexByte(raw, '>')
	if idx < 0 {
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}
	body := raw[idx+1:]

	switch len(body) {
	case 2 + statusBodyLen:
		return decodeStatus(raw, body)
	case ackBodyLen:
		return decodeAck(raw, body)
	default:
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}
}

// decodeStatus parses a ">ZZ" + 20-digit status body.
func decodeStatus(raw, body string) Frame {
	zoneID, ok := decodeZoneAddr(body[:2])
	if !ok {
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}

	st := zone.Status{Zone: zoneID}
	fields := body[2:]
	for i, attr := range statusFieldOrder {
		v, err := strconv.Atoi(fields[i*2 : i*2+2])
		if err != nil {
			return Frame{Kind: FrameUnparsed, Raw: raw}
		}
		switch attr {
		case zone.AttrPA:
			st.PA = v != 0
		case zone.AttrPower:
			st.Power = v != 0
		case zone.AttrMute:
			st.Mute = v != 0
		case zone.AttrDND:
			st.DND = v != 0
		case zone.AttrVolume:
			st.Volume = v
		case zone.AttrTreble:
			st.Treble = v
		case zone.AttrBass:
			st.Bass = v
		case zone.AttrBalance:
			st.Balance = v
		case zone.AttrSource:
			st.Source = v
		case zone.AttrKeypad:
			st.Keypad = v != 0
		}
	}

	return Frame{Kind: FrameStatus, Raw: raw, Zone: zoneID, Status: &st}
}

// decodeAck parses a ">ZZCCVV" set echo.
func decodeAck(raw, body string) Frame {
	zoneID, ok := decodeZoneAddr(body[:2])
	if !ok {
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}

	attr, ok := codeTable[body[2:4]]
	if !ok || !attributeTable[attr].Writable {
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}

	value, err := strconv.Atoi(body[4:6])
	if err != nil {
		return Frame{Kind: FrameUnparsed, Raw: raw}
	}

	return Frame{Kind: FrameAck, Raw: raw, Zone: zoneID, Attr: attr, Value: value}
}

// decodeZoneAddr converts a two-digit wire address back to a zone number.
func decodeZoneAddr(s string) (int, bool) {
	addr, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	zoneID := addr - zoneAddrOffset
	if zoneID < minZone || zoneID > maxZone {
		return 0, false
	}
	return zoneID, true
}
