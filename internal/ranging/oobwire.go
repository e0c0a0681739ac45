package ranging

import (
	"encoding/binary"
	"errors"
	"sync"
)

// OOB message envelope wire codec (§6). Fields are fixed-order, manually
// packed with encoding/binary directly over a byte slice — no reflection,
// no generated code.
//
// Request payload layout (UWB capabilities):
//
//	u8          proto_version
//	u8          role            (0=Initiator, 1=Responder)
//	u8          config_id_count
//	u8[n]       config_ids
//	u8          channel_count
//	u8[n]       channels
//	u8          preamble_count
//	u8[n]       preamble_indexes
//	u16 LE      min_interval_ms
//	u8          min_slot_duration_ms (1 or 2)
//	u8          supported_roles bitmask (bit0=INITIATOR, bit1=RESPONDER)
//	[16]byte    address
//
// Reply payload layout (selected config):
//
//	u8          proto_version
//	u8          config_id
//	u8          channel
//	u8          preamble_index
//	u8          slot_duration_ms
//	u16 LE      interval_ms
//	u8          secure (0 or 1)
//	[16]byte    session_key (present, zero-filled when !secure)

const (
	oobProtoVersion = 1

	roleBitInitiator = 1 << 0
	roleBitResponder = 1 << 1
)

var (
	ErrOobShortBuffer     = errors.New("ranging: oob envelope buffer too short")
	ErrOobBadListLength   = errors.New("ranging: oob envelope list length exceeds buffer")
	ErrOobUnknownRole     = errors.New("ranging: oob envelope role byte unrecognized")
	ErrOobUnknownRoleBits = errors.New("ranging: oob envelope supported-roles bitmask invalid")
	ErrOobTrailingBytes   = errors.New("ranging: oob envelope has trailing bytes")
	ErrOobWrongVersion    = errors.New("ranging: oob envelope proto_version mismatch")
)

// oobBufPool reuses request/reply scratch buffers across negotiations.
var oobBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 256)
		return &buf
	},
}

func getOobBuf() *[]byte {
	return oobBufPool.Get().(*[]byte)
}

func putOobBuf(b *[]byte) {
	*b = (*b)[:0]
	oobBufPool.Put(b)
}

// OobRequestEnvelope is the discovery-phase payload one device advertises.
type OobRequestEnvelope struct {
	Role    Role
	Caps    UwbCapabilities
	Address [16]byte
}

// MarshalOobRequest encodes env into a freshly-sized byte slice.
func MarshalOobRequest(env OobRequestEnvelope) ([]byte, error) {
	bufp := getOobBuf()
	defer putOobBuf(bufp)
	buf := *bufp

	buf = append(buf, oobProtoVersion)
	if env.Role == RoleInitiator {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
	}

	buf = append(buf, uint8(len(env.Caps.ConfigIDs)))
	for _, c := range env.Caps.ConfigIDs {
		buf = append(buf, uint8(c))
	}

	buf = append(buf, uint8(len(env.Caps.Channels)))
	buf = append(buf, env.Caps.Channels...)

	buf = append(buf, uint8(len(env.Caps.PreambleIndexes)))
	buf = append(buf, env.Caps.PreambleIndexes...)

	var intervalBuf [2]byte
	binary.LittleEndian.PutUint16(intervalBuf[:], env.Caps.MinIntervalMs)
	buf = append(buf, intervalBuf[:]...)

	slot := uint8(2)
	if len(env.Caps.SlotDurationsMs) > 0 {
		slot = env.Caps.SlotDurationsMs[0]
	}
	buf = append(buf, slot)

	var roleBits uint8
	if env.Caps.supportsRole(RoleInitiator) {
		roleBits |= roleBitInitiator
	}
	if env.Caps.supportsRole(RoleResponder) {
		roleBits |= roleBitResponder
	}
	buf = append(buf, roleBits)

	buf = append(buf, env.Address[:]...)

	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// UnmarshalOobRequest decodes buf into an OobRequestEnvelope.
func UnmarshalOobRequest(buf []byte) (OobRequestEnvelope, error) {
	var env OobRequestEnvelope

	if len(buf) < 2 {
		return env, ErrOobShortBuffer
	}
	if buf[0] != oobProtoVersion {
		return env, ErrOobWrongVersion
	}
	switch buf[1] {
	case 0:
		env.Role = RoleInitiator
	case 1:
		env.Role = RoleResponder
	default:
		return env, ErrOobUnknownRole
	}
	off := 2

	cfgCount, configIDs, off2, err := readU8List(buf, off)
	if err != nil {
		return env, err
	}
	off = off2
	env.Caps.ConfigIDs = make([]UwbConfigID, cfgCount)
	for i, b := range configIDs {
		env.Caps.ConfigIDs[i] = UwbConfigID(b)
	}

	_, channels, off3, err := readU8List(buf, off)
	if err != nil {
		return env, err
	}
	off = off3
	env.Caps.Channels = channels

	_, preambles, off4, err := readU8List(buf, off)
	if err != nil {
		return env, err
	}
	off = off4
	env.Caps.PreambleIndexes = preambles

	if len(buf) < off+2 {
		return env, ErrOobShortBuffer
	}
	env.Caps.MinIntervalMs = binary.LittleEndian.Uint16(buf[off : off+2])
	off += 2

	if len(buf) < off+2 {
		return env, ErrOobShortBuffer
	}
	env.Caps.SlotDurationsMs = []uint8{buf[off]}
	off++

	roleBits := buf[off]
	if roleBits&^(roleBitInitiator|roleBitResponder) != 0 {
		return env, ErrOobUnknownRoleBits
	}
	off++
	if roleBits&roleBitInitiator != 0 {
		env.Caps.Roles = append(env.Caps.Roles, RoleInitiator)
	}
	if roleBits&roleBitResponder != 0 {
		env.Caps.Roles = append(env.Caps.Roles, RoleResponder)
	}

	if len(buf) < off+16 {
		return env, ErrOobShortBuffer
	}
	copy(env.Address[:], buf[off:off+16])
	off += 16

	if off != len(buf) {
		return env, ErrOobTrailingBytes
	}

	return env, nil
}

func readU8List(buf []byte, off int) (count int, vals []uint8, newOff int, err error) {
	if len(buf) <= off {
		return 0, nil, off, ErrOobShortBuffer
	}
	n := int(buf[off])
	off++
	if len(buf) < off+n {
		return 0, nil, off, ErrOobBadListLength
	}
	vals = make([]uint8, n)
	copy(vals, buf[off:off+n])
	return n, vals, off + n, nil
}

// OobReplyEnvelope is the negotiation result sent back to a peer.
type OobReplyEnvelope struct {
	ConfigID       UwbConfigID
	Channel        uint8
	PreambleIndex  uint8
	SlotDurationMs uint8
	IntervalMs     uint16
	Secure         bool
	SessionKey     [16]byte
}

// MarshalOobReply encodes env into a freshly-sized byte slice.
func MarshalOobReply(env OobReplyEnvelope) []byte {
	bufp := getOobBuf()
	defer putOobBuf(bufp)
	buf := *bufp

	buf = append(buf, oobProtoVersion, uint8(env.ConfigID), env.Channel, env.PreambleIndex, env.SlotDurationMs)

	var intervalBuf [2]byte
	binary.LittleEndian.PutUint16(intervalBuf[:], env.IntervalMs)
	buf = append(buf, intervalBuf[:]...)

	if env.Secure {
		buf = append(buf, 1)
		buf = append(buf, env.SessionKey[:]...)
	} else {
		var zeroKey [16]byte
		buf = append(buf, 0)
		buf = append(buf, zeroKey[:]...)
	}

	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// UnmarshalOobReply decodes buf into an OobReplyEnvelope.
func UnmarshalOobReply(buf []byte) (OobReplyEnvelope, error) {
	var env OobReplyEnvelope
	const fixedLen = 1 + 1 + 1 + 1 + 1 + 2 + 1 + 16
	if len(buf) != fixedLen {
		if len(buf) < fixedLen {
			return env, ErrOobShortBuffer
		}
		return env, ErrOobTrailingBytes
	}
	if buf[0] != oobProtoVersion {
		return env, ErrOobWrongVersion
	}
	env.ConfigID = UwbConfigID(buf[1])
	env.Channel = buf[2]
	env.PreambleIndex = buf[3]
	env.SlotDurationMs = buf[4]
	env.IntervalMs = binary.LittleEndian.Uint16(buf[5:7])
	env.Secure = buf[7] == 1
	copy(env.SessionKey[:], buf[8:24])
	return env, nil
}
