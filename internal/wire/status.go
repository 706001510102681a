package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Status/ACK frames carry worker->primary state pushes for the UDP
// coordinator (§4.7). The HMAC placement here is deliberately odd: it is
// computed over magic‖version‖timestamp‖payload but transmitted between
// timestamp and payload on the wire. This is documented as an open
// question to preserve in §9 — the receiver must excise the transmitted
// HMAC bytes and recompute over the same logical byte order, not "fix" the
// ordering to something more conventional.

const hmacLen = 32

// StatusFrame is the worker-state payload of a status packet.
type StatusFrame struct {
	WorkerID string
	Name     string
	MOTD     string
	Online   int32
	Max      int32
	Port     int32
	Version  string
	Players  []PlayerRef
}

func encodeStatusPayload(f StatusFrame) []byte {
	w := NewWriter()
	w.WriteString(f.WorkerID)
	w.WriteString(f.Name)
	w.WriteString(f.MOTD)
	w.WriteInt32(f.Online)
	w.WriteInt32(f.Max)
	w.WriteInt32(f.Port)
	w.WriteString(f.Version)
	w.WriteInt32(int32(len(f.Players)))
	for _, p := range f.Players {
		w.WriteString(p.Username)
		w.WriteUUID(p.UUID)
	}
	return w.Bytes()
}

func decodeStatusPayload(data []byte) (StatusFrame, error) {
	r := NewReader(data)
	var f StatusFrame
	var err error
	if f.WorkerID, err = r.ReadString(); err != nil {
		return StatusFrame{}, err
	}
	if f.Name, err = r.ReadString(); err != nil {
		return StatusFrame{}, err
	}
	if f.MOTD, err = r.ReadString(); err != nil {
		return StatusFrame{}, err
	}
	if f.Online, err = r.ReadInt32(); err != nil {
		return StatusFrame{}, err
	}
	if f.Max, err = r.ReadInt32(); err != nil {
		return StatusFrame{}, err
	}
	if f.Port, err = r.ReadInt32(); err != nil {
		return StatusFrame{}, err
	}
	if f.Version, err = r.ReadString(); err != nil {
		return StatusFrame{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return StatusFrame{}, err
	}
	f.Players = make([]PlayerRef, 0, count)
	for i := int32(0); i < count; i++ {
		var p PlayerRef
		if p.Username, err = r.ReadString(); err != nil {
			return StatusFrame{}, err
		}
		if p.UUID, err = r.ReadUUID(); err != nil {
			return StatusFrame{}, err
		}
		f.Players = append(f.Players, p)
	}
	return f, nil
}

// timestampBytes renders a millisecond timestamp as little-endian int64,
// matching every other multi-byte integer on the wire.
func timestampBytes(millis int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(millis))
	return tmp[:]
}

// computeStatusHMAC signs magic‖version‖timestamp‖payload with key.
func computeStatusHMAC(key []byte, version byte, timestampMillis int64, payload []byte) [hmacLen]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(MagicStatus[:])
	mac.Write([]byte{version})
	mac.Write(timestampBytes(timestampMillis))
	mac.Write(payload)
	var out [hmacLen]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// EncodeStatusPacket builds a full status datagram: magic ‖ version ‖
// timestamp ‖ hmac ‖ payload, with the hmac computed over
// magic‖version‖timestamp‖payload (not over the transmitted byte order).
func EncodeStatusPacket(key []byte, timestampMillis int64, frame StatusFrame) []byte {
	payload := encodeStatusPayload(frame)
	mac := computeStatusHMAC(key, StatusFrameVersion, timestampMillis, payload)

	w := NewWriter()
	w.WriteBytes(MagicStatus[:])
	w.WriteByte(StatusFrameVersion)
	w.WriteInt64(timestampMillis)
	w.WriteBytes(mac[:])
	w.WriteBytes(payload)
	return w.Bytes()
}

// StatusPacket is a decoded-but-not-yet-authenticated status datagram: the
// caller must call VerifyHMAC with the appropriate worker key before
// trusting Frame.
type StatusPacket struct {
	Version         byte
	TimestampMillis int64
	HMAC            [hmacLen]byte
	Frame           StatusFrame
	payload         []byte
}

// DecodeStatusPacket parses the envelope and payload but performs no HMAC
// verification.
func DecodeStatusPacket(data []byte) (StatusPacket, error) {
	r := NewReader(data)
	if err := requireMagic(r, MagicStatus); err != nil {
		return StatusPacket{}, err
	}
	var p StatusPacket
	var err error
	if p.Version, err = r.ReadByte(); err != nil {
		return StatusPacket{}, err
	}
	if p.TimestampMillis, err = r.ReadInt64(); err != nil {
		return StatusPacket{}, err
	}
	macBytes, err := r.ReadBytes(hmacLen)
	if err != nil {
		return StatusPacket{}, err
	}
	copy(p.HMAC[:], macBytes)

	payload, err := r.ReadBytes(r.Remaining())
	if err != nil {
		return StatusPacket{}, err
	}
	p.payload = payload

	if p.Frame, err = decodeStatusPayload(payload); err != nil {
		return StatusPacket{}, err
	}
	return p, nil
}

// VerifyHMAC recomputes the signature over magic‖version‖timestamp‖payload
// with key and compares it in constant time against the transmitted HMAC.
func (p StatusPacket) VerifyHMAC(key []byte) bool {
	expected := computeStatusHMAC(key, p.Version, p.TimestampMillis, p.payload)
	return hmac.Equal(expected[:], p.HMAC[:])
}

// EncodeAck builds `HYSTATOK` ‖ status ‖ echoed-timestamp ‖ hmac over the
// preceding bytes with key.
func EncodeAck(key []byte, status byte, echoedTimestampMillis int64) []byte {
	signed := NewWriter()
	signed.WriteBytes(MagicStatusOK[:])
	signed.WriteByte(status)
	signed.WriteInt64(echoedTimestampMillis)

	mac := hmac.New(sha256.New, key)
	mac.Write(signed.Bytes())

	w := NewWriter()
	w.WriteBytes(signed.Bytes())
	w.WriteBytes(mac.Sum(nil))
	return w.Bytes()
}

// Ack is a decoded acknowledgement frame.
type Ack struct {
	Status                byte
	EchoedTimestampMillis int64
	HMAC                  [hmacLen]byte
	signedPortion         []byte
}

// DecodeAck parses an ACK frame.
func DecodeAck(data []byte) (Ack, error) {
	r := NewReader(data)
	start := 0
	if err := requireMagic(r, MagicStatusOK); err != nil {
		return Ack{}, err
	}
	var a Ack
	var err error
	if a.Status, err = r.ReadByte(); err != nil {
		return Ack{}, err
	}
	if a.EchoedTimestampMillis, err = r.ReadInt64(); err != nil {
		return Ack{}, err
	}
	signedLen := MagicLen + 1 + 8
	a.signedPortion = append([]byte(nil), data[start:signedLen]...)

	macBytes, err := r.ReadBytes(hmacLen)
	if err != nil {
		return Ack{}, err
	}
	copy(a.HMAC[:], macBytes)
	return a, nil
}

// VerifyHMAC recomputes the ACK signature over the leading bytes and
// compares it in constant time.
func (a Ack) VerifyHMAC(key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(a.signedPortion)
	return hmac.Equal(mac.Sum(nil), a.HMAC[:])
}
