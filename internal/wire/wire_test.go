package wire

import (
	"bytes"
	"testing"
)

func TestV1ResponseRoundTripBasic(t *testing.T) {
	resp := V1Response{
		Type:       V1TypeBasic,
		ServerName: "Hytale Server",
		MOTD:       "welcome",
		Online:     3,
		Max:        20,
		Port:       5520,
		Version:    "1.0",
	}

	encoded := EncodeV1Response(resp)
	if !bytes.Equal(encoded[:MagicLen], MagicV1Reply[:]) {
		t.Fatalf("expected reply magic, got %x", encoded[:MagicLen])
	}

	decoded, err := DecodeV1Response(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Type != resp.Type || decoded.ServerName != resp.ServerName || decoded.MOTD != resp.MOTD ||
		decoded.Online != resp.Online || decoded.Max != resp.Max || decoded.Port != resp.Port || decoded.Version != resp.Version {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, resp)
	}
}

func TestV1ResponseRoundTripFull(t *testing.T) {
	resp := V1Response{
		Type:       V1TypeFull,
		ServerName: "Hytale Server",
		MOTD:       "welcome",
		Online:     2,
		Max:        20,
		Port:       5520,
		Version:    "1.0",
		Full:       true,
		Players: []PlayerRef{
			{Username: "alice", UUID: UUID{MSB: 1, LSB: 2}},
			{Username: "bob", UUID: UUID{MSB: 3, LSB: 4}, SourceServerID: "worker-1"},
		},
		Plugins: []string{"essentials"},
		RemoteServers: []RemoteServerSnapshot{
			{ID: "worker-1", Name: "Fleet A", Online: 1, Max: 10, UpdatedAtMillis: 1000},
		},
	}

	encoded := EncodeV1Response(resp)
	decoded, err := DecodeV1Response(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Online != resp.Online || decoded.Max != resp.Max {
		t.Fatalf("count mismatch: got online=%d max=%d", decoded.Online, decoded.Max)
	}
	if len(decoded.Players) != 2 || decoded.Players[1].SourceServerID != "worker-1" {
		t.Fatalf("player list mismatch: %+v", decoded.Players)
	}
	if len(decoded.RemoteServers) != 1 || decoded.RemoteServers[0].ID != "worker-1" {
		t.Fatalf("remote server mismatch: %+v", decoded.RemoteServers)
	}
}

func TestV1ResponseRemoteServerPlayersOmitSourceServerID(t *testing.T) {
	resp := V1Response{
		Type:    V1TypeFull,
		Version: "1.0",
		Full:    true,
		RemoteServers: []RemoteServerSnapshot{
			{
				ID:     "worker-1",
				Name:   "Fleet A",
				Online: 1,
				Max:    10,
				Players: []PlayerRef{
					{Username: "alice", UUID: UUID{MSB: 1, LSB: 2}},
					{Username: "bob", UUID: UUID{MSB: 3, LSB: 4}},
				},
			},
		},
	}

	encoded := EncodeV1Response(resp)
	decoded, err := DecodeV1Response(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(decoded.RemoteServers) != 1 {
		t.Fatalf("expected 1 remote server, got %d", len(decoded.RemoteServers))
	}
	players := decoded.RemoteServers[0].Players
	if len(players) != 2 || players[0].Username != "alice" || players[1].Username != "bob" {
		t.Fatalf("worker player list mismatch: %+v", players)
	}
	for _, p := range players {
		if p.SourceServerID != "" {
			t.Fatalf("expected nested worker players to carry no source server id, got %q", p.SourceServerID)
		}
	}

	// The wire form itself must not carry the 3rd field for nested
	// entries: a hand-built 2-field-per-player buffer must match what this
	// encoder produces byte for byte.
	want := NewWriter()
	want.WriteBytes(MagicV1Reply[:])
	want.WriteByte(V1TypeFull)
	want.WriteString(resp.ServerName)
	want.WriteString(resp.MOTD)
	want.WriteUint32(resp.Online)
	want.WriteUint32(resp.Max)
	want.WriteUint32(resp.Port)
	want.WriteString(resp.Version)
	want.WriteUint32(0) // no top-level players
	want.WriteUint32(0) // no plugins
	want.WriteUint32(1) // one remote server
	want.WriteString("worker-1")
	want.WriteString("Fleet A")
	want.WriteString("")
	want.WriteUint32(1)
	want.WriteUint32(10)
	want.WriteByte(0)
	want.WriteInt64(0)
	want.WriteUint32(2)
	want.WriteString("alice")
	want.WriteUUID(UUID{MSB: 1, LSB: 2})
	want.WriteString("bob")
	want.WriteUUID(UUID{MSB: 3, LSB: 4})

	if !bytes.Equal(encoded, want.Bytes()) {
		t.Fatalf("wire layout mismatch:\n got  %x\n want %x", encoded, want.Bytes())
	}
}

func TestV2ChallengeResponseRoundTrip(t *testing.T) {
	var token [32]byte
	for i := range token {
		token[i] = byte(i)
	}

	encoded := EncodeChallengeResponse(FamilyHyquery, token)
	if !bytes.Equal(encoded[:MagicLen], MagicV2HyRepl[:]) {
		t.Fatalf("expected hyquery2 reply magic, got %x", encoded[:MagicLen])
	}
	if len(encoded) != MagicLen+1+32+7 {
		t.Fatalf("unexpected challenge response length %d", len(encoded))
	}

	decoded, err := DecodeChallengeResponse(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != token {
		t.Fatalf("token mismatch")
	}
}

func TestV2RequestRoundTripBasic(t *testing.T) {
	var token [32]byte
	for i := range token {
		token[i] = byte(i * 3)
	}

	w := NewWriter()
	w.WriteBytes(MagicV2Hy[:])
	w.WriteByte(V2TypeBasic)
	w.WriteBytes(token[:])
	w.WriteUint32(42)
	w.WriteUint16(0)
	w.WriteUint32(0)

	family, reqType, rest, err := DecodeV2RequestHeader(w.Bytes())
	if err != nil {
		t.Fatalf("header decode failed: %v", err)
	}
	if family != FamilyHyquery || reqType != V2TypeBasic {
		t.Fatalf("unexpected family/type: %v %v", family, reqType)
	}

	req, err := DecodeV2Request(family, reqType, rest)
	if err != nil {
		t.Fatalf("body decode failed: %v", err)
	}
	if req.Token != token || req.RequestID != 42 {
		t.Fatalf("request mismatch: %+v", req)
	}
	if req.HasAuthToken() {
		t.Fatalf("expected no auth token flag set")
	}
}

func TestV2ResponseEchoesRequestID(t *testing.T) {
	info := ServerInfo{ServerName: "srv", MOTD: "hi", Online: 1, Max: 10, Version: "1.0"}
	payload := EncodeTLV(TLVServerInfo, EncodeServerInfo(info))

	resp := V2Response{Family: FamilyOnequery, Flags: FlagIsNetwork, RequestID: 99, Payload: payload}
	encoded := EncodeV2Response(resp)

	if !bytes.Equal(encoded[:MagicLen], MagicV2OneRep[:]) {
		t.Fatalf("expected onereply magic for onequery family")
	}

	decoded, err := DecodeV2Response(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.RequestID != 99 {
		t.Fatalf("request id not echoed: got %d", decoded.RequestID)
	}
	if decoded.Flags&FlagIsNetwork == 0 {
		t.Fatalf("expected IS_NETWORK flag to survive round trip")
	}

	tlv, err := DecodeTLV(NewReader(decoded.Payload))
	if err != nil {
		t.Fatalf("tlv decode failed: %v", err)
	}
	gotInfo, err := DecodeServerInfo(tlv.Value, false)
	if err != nil {
		t.Fatalf("server info decode failed: %v", err)
	}
	if gotInfo.ServerName != "srv" || gotInfo.Online != 1 {
		t.Fatalf("server info mismatch: %+v", gotInfo)
	}
}

func TestBuildPlayerListPagePaginatesAtBudget(t *testing.T) {
	var players []PlayerRef
	for i := 0; i < 200; i++ {
		players = append(players, PlayerRef{Username: "player-with-a-fairly-long-name", UUID: UUID{MSB: uint64(i)}})
	}

	page := BuildPlayerListPage(players, 0)
	if len(page.Entries) == 0 {
		t.Fatalf("expected at least one entry in first page")
	}
	if !page.HasMore {
		t.Fatalf("expected HasMore for 200 large-named players")
	}

	used := 0
	for _, e := range page.Entries {
		used += PlayerEntrySize(e.Username)
	}
	if used > MaxPlayerListPayload {
		t.Fatalf("page exceeded budget: used=%d budget=%d", used, MaxPlayerListPayload)
	}

	next := BuildPlayerListPage(players, len(page.Entries))
	if next.StartOffset != int32(len(page.Entries)) {
		t.Fatalf("expected next page to start where first left off")
	}
}

func TestBuildPlayerListPageOffsetPastEndIsEmpty(t *testing.T) {
	players := []PlayerRef{{Username: "solo", UUID: UUID{MSB: 1}}}
	page := BuildPlayerListPage(players, 5)
	if len(page.Entries) != 0 || page.HasMore {
		t.Fatalf("expected empty non-more page for out-of-range offset, got %+v", page)
	}
}

func TestStatusPacketHMACRoundTrip(t *testing.T) {
	key := []byte("worker-secret")
	frame := StatusFrame{WorkerID: "worker-1", Name: "srv", Online: 3, Max: 10, Port: 5520, Version: "1.0"}

	packet := EncodeStatusPacket(key, 1_000_000, frame)

	decoded, err := DecodeStatusPacket(packet)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.VerifyHMAC(key) {
		t.Fatalf("expected HMAC to verify with correct key")
	}
	if decoded.VerifyHMAC([]byte("wrong-key")) {
		t.Fatalf("expected HMAC to reject wrong key")
	}
	if decoded.Frame.WorkerID != "worker-1" || decoded.Frame.Online != 3 {
		t.Fatalf("frame mismatch: %+v", decoded.Frame)
	}
}

func TestAckStatusCodeMatrix(t *testing.T) {
	key := []byte("primary-key")

	for _, status := range []byte{StatusOK, StatusUnknownID, StatusBadHMAC, StatusStale} {
		ack := EncodeAck(key, status, 12345)
		if !bytes.Equal(ack[:MagicLen], MagicStatusOK[:]) {
			t.Fatalf("expected HYSTATOK magic")
		}

		decoded, err := DecodeAck(ack)
		if err != nil {
			t.Fatalf("decode failed for status %d: %v", status, err)
		}
		if decoded.Status != status {
			t.Fatalf("status mismatch: got %d want %d", decoded.Status, status)
		}
		if decoded.EchoedTimestampMillis != 12345 {
			t.Fatalf("timestamp not echoed: got %d", decoded.EchoedTimestampMillis)
		}
		if !decoded.VerifyHMAC(key) {
			t.Fatalf("expected ack HMAC to verify")
		}
		if decoded.VerifyHMAC([]byte("wrong")) {
			t.Fatalf("expected ack HMAC to reject wrong key")
		}
	}
}

func TestClassifyDispatchTable(t *testing.T) {
	cases := []struct {
		magic [MagicLen]byte
		want  Classification
	}{
		{MagicV1Query, ClassV1Query},
		{MagicV2Hy, ClassV2Query},
		{MagicV2One, ClassV2Query},
		{MagicStatus, ClassWorkerStatus},
		{MagicStatusOK, ClassRecognizedButRejected},
		{MagicV1Reply, ClassRecognizedButRejected},
		{MagicV2HyRepl, ClassRecognizedButRejected},
		{MagicV2OneRep, ClassRecognizedButRejected},
		{[MagicLen]byte{'G', 'A', 'M', 'E', 'D', 'A', 'T', 'A'}, ClassForeign},
	}
	for _, c := range cases {
		if got := Classify(c.magic); got != c.want {
			t.Fatalf("Classify(%q) = %v, want %v", c.magic, got, c.want)
		}
	}
}
