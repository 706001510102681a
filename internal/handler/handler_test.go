package handler

import (
	"net"
	"testing"
	"time"

	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/cache"
	"github.com/hyquery/hyquery/internal/challenge"
	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/ratelimit"
	"github.com/hyquery/hyquery/internal/wire"
)

type fakeHost struct {
	name    string
	motd    string
	max     int
	port    int
	version string
	players []host.Player
	plugins []string
}

func (f fakeHost) ServerName() string    { return f.name }
func (f fakeHost) MOTD() string          { return f.motd }
func (f fakeHost) MaxPlayers() int       { return f.max }
func (f fakeHost) BindPort() int         { return f.port }
func (f fakeHost) Players() []host.Player { return f.players }
func (f fakeHost) Version() string       { return f.version }
func (f fakeHost) Plugins() []string     { return f.plugins }

type fakeSender struct {
	sent   [][]byte
	toAddr []net.Addr
}

func (f *fakeSender) WriteTo(b []byte, addr net.Addr) (int, error) {
	cp := append([]byte{}, b...)
	f.sent = append(f.sent, cp)
	f.toAddr = append(f.toAddr, addr)
	return len(b), nil
}

func (f *fakeSender) last() []byte {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeProvider struct {
	agg aggregate.Aggregate
	err error
}

func (f fakeProvider) GetAggregate(includePlayers bool) (aggregate.Aggregate, error) {
	return f.agg, f.err
}

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
}

func testRateLimiter(rate, burst int) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{RatePerSecond: rate, Burst: burst, CleanupInterval: time.Hour, IdleTimeout: time.Hour})
}

func TestHandleV1BasicRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = false
	h := fakeHost{name: "Hytale Server", motd: "welcome", max: 20, port: 5520, version: "1.0"}
	sender := &fakeSender{}
	handler := New(cfg, h, mustChallenge(t), testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)

	req := []byte{}
	req = append(req, wire.MagicV1Query[:]...)
	req = append(req, wire.V1TypeBasic)

	handler.HandleV1(req, testAddr())

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(sender.sent))
	}
	resp, err := wire.DecodeV1Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.ServerName != "Hytale Server" || resp.Online != 0 || resp.Max != 20 {
		t.Fatalf("unexpected basic response: %+v", resp)
	}
	if resp.Full {
		t.Fatalf("expected non-full response for BASIC request")
	}
}

func TestHandleV1FullIncludesAggregate(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = false
	cfg.ShowPlayerList = true
	h := fakeHost{name: "Hytale Server", max: 20, version: "1.0", players: []host.Player{{Username: "alice"}}}
	sender := &fakeSender{}
	provider := fakeProvider{agg: aggregate.Aggregate{
		TotalOnline:   2,
		TotalMax:      10,
		RemoteServers: []wire.RemoteServerSnapshot{{ID: "worker-1", Name: "Fleet A", Online: 2, Max: 10}},
	}}
	handler := New(cfg, h, mustChallenge(t), testRateLimiter(100, 100), cache.New(0), aggregate.View{Provider: provider}, sender, true)

	req := []byte{}
	req = append(req, wire.MagicV1Query[:]...)
	req = append(req, wire.V1TypeFull)

	handler.HandleV1(req, testAddr())

	resp, err := wire.DecodeV1Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Online != 3 || resp.Max != 30 {
		t.Fatalf("expected local+aggregate totals, got online=%d max=%d", resp.Online, resp.Max)
	}
	if len(resp.RemoteServers) != 1 || resp.RemoteServers[0].ID != "worker-1" {
		t.Fatalf("expected remote server to be echoed, got %+v", resp.RemoteServers)
	}
	if len(resp.Players) != 1 || resp.Players[0].Username != "alice" {
		t.Fatalf("expected local player to be included, got %+v", resp.Players)
	}
}

func TestHandleV1RespectsRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.CacheEnabled = false
	h := fakeHost{name: "srv", max: 20, version: "1.0"}
	sender := &fakeSender{}
	handler := New(cfg, h, mustChallenge(t), testRateLimiter(1, 1), cache.New(0), aggregate.View{}, sender, true)

	req := append(append([]byte{}, wire.MagicV1Query[:]...), wire.V1TypeBasic)
	handler.HandleV1(req, testAddr())
	handler.HandleV1(req, testAddr())

	if len(sender.sent) != 1 {
		t.Fatalf("expected second request to be rate-limited, got %d responses", len(sender.sent))
	}
}

func TestHandleV2ChallengeThenBasicFlow(t *testing.T) {
	cfg := config.Default()
	h := fakeHost{name: "Hytale Server", motd: "hi", max: 20, version: "1.0"}
	sender := &fakeSender{}
	ch := mustChallenge(t)
	handler := New(cfg, h, ch, testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)

	addr := testAddr()

	challengeReq := append(append([]byte{}, wire.MagicV2Hy[:]...), wire.V2TypeChallenge)
	handler.HandleV2(challengeReq, addr)
	if len(sender.sent) != 1 {
		t.Fatalf("expected a challenge response, got %d", len(sender.sent))
	}
	token, err := wire.DecodeChallengeResponse(sender.last())
	if err != nil {
		t.Fatalf("failed to decode challenge response: %v", err)
	}

	w := wire.NewWriter()
	w.WriteBytes(wire.MagicV2Hy[:])
	w.WriteByte(wire.V2TypeBasic)
	w.WriteBytes(token[:])
	w.WriteUint32(7)
	w.WriteUint16(0)
	w.WriteUint32(0)

	handler.HandleV2(w.Bytes(), addr)
	if len(sender.sent) != 2 {
		t.Fatalf("expected a basic response after a valid challenge, got %d messages", len(sender.sent))
	}

	resp, err := wire.DecodeV2Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.RequestID != 7 {
		t.Fatalf("expected request id to be echoed, got %d", resp.RequestID)
	}
	tlv, err := wire.DecodeTLV(wire.NewReader(resp.Payload))
	if err != nil {
		t.Fatalf("tlv decode failed: %v", err)
	}
	info, err := wire.DecodeServerInfo(tlv.Value, false)
	if err != nil {
		t.Fatalf("server info decode failed: %v", err)
	}
	if info.ServerName != "Hytale Server" {
		t.Fatalf("unexpected server name: %+v", info)
	}
}

func TestHandleV2RejectsForgedToken(t *testing.T) {
	cfg := config.Default()
	h := fakeHost{name: "srv", max: 20, version: "1.0"}
	sender := &fakeSender{}
	handler := New(cfg, h, mustChallenge(t), testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)

	var forged [32]byte
	for i := range forged {
		forged[i] = byte(i)
	}

	w := wire.NewWriter()
	w.WriteBytes(wire.MagicV2Hy[:])
	w.WriteByte(wire.V2TypeBasic)
	w.WriteBytes(forged[:])
	w.WriteUint32(1)
	w.WriteUint16(0)
	w.WriteUint32(0)

	handler.HandleV2(w.Bytes(), testAddr())
	if len(sender.sent) != 0 {
		t.Fatalf("expected forged token to be silently dropped, got %d responses", len(sender.sent))
	}
}

func TestHandleV2PlayersRequiresAuthWhenNotPublic(t *testing.T) {
	cfg := config.Default()
	cfg.Authentication.PublicAccess = config.EndpointPermissions{Basic: true, Players: false}
	cfg.Authentication.Tokens = map[string]config.EndpointPermissions{
		"secret-token": {Basic: true, Players: true},
	}
	h := fakeHost{name: "srv", max: 20, version: "1.0"}
	sender := &fakeSender{}
	ch := mustChallenge(t)
	handler := New(cfg, h, ch, testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)
	addr := testAddr()

	token := ch.Mint(addr)

	w := wire.NewWriter()
	w.WriteBytes(wire.MagicV2Hy[:])
	w.WriteByte(wire.V2TypePlayers)
	w.WriteBytes(token[:])
	w.WriteUint32(1)
	w.WriteUint16(0)
	w.WriteUint32(0)

	handler.HandleV2(w.Bytes(), addr)
	if len(sender.sent) != 1 {
		t.Fatalf("expected an auth-required response, got %d", len(sender.sent))
	}
	resp, err := wire.DecodeV2Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Flags&wire.FlagAuthRequired == 0 {
		t.Fatalf("expected AUTH_REQUIRED flag to be set, got flags=%v", resp.Flags)
	}
}

func TestHandleV2PlayersHappyPathIgnoresShowPlayerList(t *testing.T) {
	cfg := config.Default()
	cfg.ShowPlayerList = false // gates the V1 list only, must not affect V2 PLAYERS
	cfg.Authentication.PublicAccess = config.EndpointPermissions{Basic: true, Players: true}
	h := fakeHost{name: "srv", max: 20, version: "1.0", players: []host.Player{{Username: "alice"}, {Username: "bob"}}}
	sender := &fakeSender{}
	ch := mustChallenge(t)
	handler := New(cfg, h, ch, testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)
	addr := testAddr()

	token := ch.Mint(addr)

	w := wire.NewWriter()
	w.WriteBytes(wire.MagicV2Hy[:])
	w.WriteByte(wire.V2TypePlayers)
	w.WriteBytes(token[:])
	w.WriteUint32(1)
	w.WriteUint16(0)
	w.WriteUint32(0)

	handler.HandleV2(w.Bytes(), addr)
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(sender.sent))
	}
	resp, err := wire.DecodeV2Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Flags&wire.FlagAuthRequired != 0 {
		t.Fatalf("did not expect AUTH_REQUIRED when players endpoint is public")
	}
	tlv, err := wire.DecodeTLV(wire.NewReader(resp.Payload))
	if err != nil {
		t.Fatalf("tlv decode failed: %v", err)
	}
	if tlv.Type != wire.TLVPlayerList {
		t.Fatalf("expected a PLAYER_LIST TLV even with ShowPlayerList=false, got type %d", tlv.Type)
	}
	page, err := wire.DecodePlayerList(tlv.Value)
	if err != nil {
		t.Fatalf("player list decode failed: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected both local players in the list, got %+v", page.Entries)
	}
}

func TestHandleV2PlayersAuthorizedViaHashedToken(t *testing.T) {
	cfg := config.Default()
	cfg.Authentication.PublicAccess = config.EndpointPermissions{Basic: true, Players: false}
	cfg.Authentication.Tokens = map[string]config.EndpointPermissions{
		"secret-token": {Basic: true, Players: true},
	}
	h := fakeHost{name: "srv", max: 20, version: "1.0", players: []host.Player{{Username: "alice"}}}
	sender := &fakeSender{}
	ch := mustChallenge(t)
	handler := New(cfg, h, ch, testRateLimiter(100, 100), cache.New(0), aggregate.View{}, sender, true)
	addr := testAddr()

	token := ch.Mint(addr)

	w := wire.NewWriter()
	w.WriteBytes(wire.MagicV2Hy[:])
	w.WriteByte(wire.V2TypePlayers)
	w.WriteBytes(token[:])
	w.WriteUint32(1)
	w.WriteUint16(wire.FlagHasAuthToken)
	w.WriteUint32(0)
	w.WriteString("secret-token")

	handler.HandleV2(w.Bytes(), addr)
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(sender.sent))
	}
	resp, err := wire.DecodeV2Response(sender.last())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Flags&wire.FlagAuthRequired != 0 {
		t.Fatalf("expected the matching auth token to authorize players access")
	}
	tlv, err := wire.DecodeTLV(wire.NewReader(resp.Payload))
	if err != nil {
		t.Fatalf("tlv decode failed: %v", err)
	}
	if tlv.Type != wire.TLVPlayerList {
		t.Fatalf("expected a PLAYER_LIST TLV, got type %d", tlv.Type)
	}
}

func mustChallenge(t *testing.T) *challenge.Service {
	t.Helper()
	ch, err := challenge.NewService("handler-test-secret")
	if err != nil {
		t.Fatalf("failed to build challenge service: %v", err)
	}
	return ch
}
