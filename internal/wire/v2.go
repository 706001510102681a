package wire

import "fmt"

// V2 is the challenge-authenticated, TLV-payload query format. It exists
// in two magic-byte families (HYQUERY2/HYREPLY2 and ONEQUERY/ONEREPLY)
// that are wire-identical apart from their magics; Family threads through
// every type here so a response always echoes its request's family.

// V2ChallengeRequest is `<magic>` ‖ 0x00. It carries no further fields.
type V2ChallengeRequest struct {
	Family Family
}

// V2Request is a BASIC or PLAYERS request: `<magic>` ‖ type ‖ 32-byte
// token ‖ uint32 request-id ‖ uint16 flags ‖ uint32 offset, optionally
// followed by a length-prefixed auth token when FlagHasAuthToken is set.
type V2Request struct {
	Family    Family
	Type      byte
	Token     [32]byte
	RequestID uint32
	Flags     uint16
	Offset    uint32
	AuthToken string
}

// HasAuthToken reports whether the request carried FlagHasAuthToken.
func (r V2Request) HasAuthToken() bool {
	return r.Flags&FlagHasAuthToken != 0
}

// DecodeV2RequestHeader reads the magic and type byte, classifying the
// request as a challenge request (no further fields) or the BASIC/PLAYERS
// shape. Returns the family and type so the caller can decide which of
// DecodeV2Request/nothing-more to call next.
func DecodeV2RequestHeader(data []byte) (family Family, reqType byte, rest *Reader, err error) {
	r := NewReader(data)
	magic, err := r.ReadMagic()
	if err != nil {
		return FamilyUnknown, 0, nil, err
	}
	family = V2RequestFamily(magic)
	if family == FamilyUnknown {
		return FamilyUnknown, 0, nil, ErrMalformed
	}
	reqType, err = r.ReadByte()
	if err != nil {
		return FamilyUnknown, 0, nil, err
	}
	return family, reqType, r, nil
}

// DecodeV2Request parses the BASIC/PLAYERS body from a Reader already
// positioned after the type byte (as returned by DecodeV2RequestHeader).
func DecodeV2Request(family Family, reqType byte, r *Reader) (V2Request, error) {
	req := V2Request{Family: family, Type: reqType}

	tokenBytes, err := r.ReadBytes(32)
	if err != nil {
		return V2Request{}, err
	}
	copy(req.Token[:], tokenBytes)

	if req.RequestID, err = r.ReadUint32(); err != nil {
		return V2Request{}, err
	}
	if req.Flags, err = r.ReadUint16(); err != nil {
		return V2Request{}, err
	}
	if req.Offset, err = r.ReadUint32(); err != nil {
		return V2Request{}, err
	}
	if req.HasAuthToken() {
		if req.AuthToken, err = r.ReadString(); err != nil {
			return V2Request{}, err
		}
	}
	return req, nil
}

// EncodeChallengeResponse writes `<magic>` ‖ 0x00 ‖ 32-byte token ‖ 7
// reserved zero bytes (48 bytes total, including the magic).
func EncodeChallengeResponse(family Family, token [32]byte) []byte {
	w := NewWriter()
	magic := family.ResponseMagic()
	w.WriteBytes(magic[:])
	w.WriteByte(V2TypeChallenge)
	w.WriteBytes(token[:])
	w.WriteBytes(make([]byte, 7))
	return w.Bytes()
}

// DecodeChallengeResponse is the inverse of EncodeChallengeResponse, used
// by tests and by any client library built on this package.
func DecodeChallengeResponse(data []byte) (token [32]byte, err error) {
	r := NewReader(data)
	if _, err = r.ReadMagic(); err != nil {
		return token, err
	}
	t, err := r.ReadByte()
	if err != nil {
		return token, err
	}
	if t != V2TypeChallenge {
		return token, fmt.Errorf("%w: expected challenge response type", ErrMalformed)
	}
	tok, err := r.ReadBytes(32)
	if err != nil {
		return token, err
	}
	copy(token[:], tok)
	return token, nil
}

// V2Response is the 17-byte header plus an already-built TLV payload.
type V2Response struct {
	Family    Family
	Flags     uint16
	RequestID uint32
	Payload   []byte
}

// EncodeV2Response assembles the full response datagram.
func EncodeV2Response(resp V2Response) []byte {
	w := NewWriter()
	magic := resp.Family.ResponseMagic()
	w.WriteBytes(magic[:])
	w.WriteByte(V2ResponseVersion)
	w.WriteUint16(resp.Flags)
	w.WriteUint32(resp.RequestID)
	w.WriteUint16(uint16(len(resp.Payload)))
	w.WriteBytes(resp.Payload)
	return w.Bytes()
}

// DecodeV2Response parses a full response datagram (header + payload).
func DecodeV2Response(data []byte) (V2Response, error) {
	r := NewReader(data)
	magic, err := r.ReadMagic()
	if err != nil {
		return V2Response{}, err
	}
	family := FamilyUnknown
	switch magic {
	case MagicV2HyRepl:
		family = FamilyHyquery
	case MagicV2OneRep:
		family = FamilyOnequery
	default:
		return V2Response{}, ErrMalformed
	}

	version, err := r.ReadByte()
	if err != nil {
		return V2Response{}, err
	}
	if version != V2ResponseVersion {
		return V2Response{}, fmt.Errorf("%w: unsupported response version %d", ErrMalformed, version)
	}

	var resp V2Response
	resp.Family = family
	if resp.Flags, err = r.ReadUint16(); err != nil {
		return V2Response{}, err
	}
	if resp.RequestID, err = r.ReadUint32(); err != nil {
		return V2Response{}, err
	}
	payloadLen, err := r.ReadUint16()
	if err != nil {
		return V2Response{}, err
	}
	if resp.Payload, err = r.ReadBytes(int(payloadLen)); err != nil {
		return V2Response{}, err
	}
	return resp, nil
}

// TLV is one type-length-value record inside a V2 payload.
type TLV struct {
	Type  uint16
	Value []byte
}

// EncodeTLV wraps value in its TLV envelope.
func EncodeTLV(typ uint16, value []byte) []byte {
	w := NewWriter()
	w.WriteUint16(typ)
	w.WriteUint16(uint16(len(value)))
	w.WriteBytes(value)
	return w.Bytes()
}

// DecodeTLV reads one TLV record from r.
func DecodeTLV(r *Reader) (TLV, error) {
	typ, err := r.ReadUint16()
	if err != nil {
		return TLV{}, err
	}
	length, err := r.ReadUint16()
	if err != nil {
		return TLV{}, err
	}
	value, err := r.ReadBytes(int(length))
	if err != nil {
		return TLV{}, err
	}
	return TLV{Type: typ, Value: value}, nil
}

// ServerInfo is the decoded/encoded form of a SERVER_INFO TLV value.
type ServerInfo struct {
	ServerName      string
	MOTD            string
	Online          int32
	Max             int32
	Version         string
	ProtocolVersion int32
	ProtocolHash    string
	HasAddress      bool
	Host            string
	Port            uint16
}

// EncodeServerInfo builds the SERVER_INFO TLV value bytes (not yet wrapped
// in its TLV envelope).
func EncodeServerInfo(info ServerInfo) []byte {
	w := NewWriter()
	w.WriteString(info.ServerName)
	w.WriteString(info.MOTD)
	w.WriteInt32(info.Online)
	w.WriteInt32(info.Max)
	w.WriteString(info.Version)
	w.WriteInt32(info.ProtocolVersion)
	w.WriteString(info.ProtocolHash)
	if info.HasAddress {
		w.WriteString(info.Host)
		w.WriteUint16(info.Port)
	}
	return w.Bytes()
}

// DecodeServerInfo parses a SERVER_INFO TLV value. hasAddress must be
// supplied by the caller from the enclosing response's HAS_ADDRESS flag,
// since the value bytes alone don't self-describe whether the trailing
// host/port pair is present.
func DecodeServerInfo(value []byte, hasAddress bool) (ServerInfo, error) {
	r := NewReader(value)
	var info ServerInfo
	var err error
	if info.ServerName, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	if info.MOTD, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	if info.Online, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	if info.Max, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	if info.Version, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	if info.ProtocolVersion, err = r.ReadInt32(); err != nil {
		return ServerInfo{}, err
	}
	if info.ProtocolHash, err = r.ReadString(); err != nil {
		return ServerInfo{}, err
	}
	info.HasAddress = hasAddress
	if hasAddress {
		if info.Host, err = r.ReadString(); err != nil {
			return ServerInfo{}, err
		}
		if info.Port, err = r.ReadUint16(); err != nil {
			return ServerInfo{}, err
		}
	}
	return info, nil
}

// PlayerListPage is one paginated PLAYER_LIST TLV value: totals plus the
// slice of entries that fit in this page.
type PlayerListPage struct {
	Total       int32
	StartOffset int32
	Entries     []PlayerRef
	HasMore     bool
}

// BuildPlayerListPage selects the entries visible starting at offset,
// respecting the MTU-derived MaxPlayerListPayload budget from §4.2. players
// must already be in final sort order; offset is clamped to
// [0, len(players)].
func BuildPlayerListPage(players []PlayerRef, offset int) PlayerListPage {
	total := len(players)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}

	budget := MaxPlayerListPayload
	entries := make([]PlayerRef, 0)
	i := offset
	for i < total {
		cost := PlayerEntrySize(players[i].Username)
		if cost > budget {
			break
		}
		budget -= cost
		entries = append(entries, players[i])
		i++
	}

	return PlayerListPage{
		Total:       int32(total),
		StartOffset: int32(offset),
		Entries:     entries,
		HasMore:     i < total,
	}
}

// EncodePlayerList builds the PLAYER_LIST TLV value bytes: int32 total ‖
// int32 count-in-this-response ‖ int32 start-offset ‖ entries (username ‖
// UUID each, no source-server-id — that field only exists in the V1
// format).
func EncodePlayerList(page PlayerListPage) []byte {
	w := NewWriter()
	w.WriteInt32(page.Total)
	w.WriteInt32(int32(len(page.Entries)))
	w.WriteInt32(page.StartOffset)
	for _, e := range page.Entries {
		w.WriteString(e.Username)
		w.WriteUUID(e.UUID)
	}
	return w.Bytes()
}

// DecodePlayerList parses a PLAYER_LIST TLV value.
func DecodePlayerList(value []byte) (PlayerListPage, error) {
	r := NewReader(value)
	var page PlayerListPage
	var err error
	if page.Total, err = r.ReadInt32(); err != nil {
		return PlayerListPage{}, err
	}
	count, err := r.ReadInt32()
	if err != nil {
		return PlayerListPage{}, err
	}
	if page.StartOffset, err = r.ReadInt32(); err != nil {
		return PlayerListPage{}, err
	}
	page.Entries = make([]PlayerRef, 0, count)
	for i := int32(0); i < count; i++ {
		var e PlayerRef
		if e.Username, err = r.ReadString(); err != nil {
			return PlayerListPage{}, err
		}
		if e.UUID, err = r.ReadUUID(); err != nil {
			return PlayerListPage{}, err
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}
