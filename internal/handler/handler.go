// Package handler implements the request-handling flows from §4.6: the V1
// legacy flow and the V2 challenge/BASIC/PLAYERS flow. It orchestrates the
// challenge service, rate limiter, response cache, wire codec, and
// aggregation view but owns none of their state itself.
package handler

import (
	"net"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/cache"
	"github.com/hyquery/hyquery/internal/challenge"
	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/ratelimit"
	"github.com/hyquery/hyquery/internal/wire"
)

var log = obslog.Component("handler")

// Sender is the minimal write side of a UDP socket the handler needs. A
// *net.UDPConn satisfies this directly.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Handler wires together every component the dispatch path touches per
// request. Every field is read-only after construction and safe to call
// concurrently from multiple dispatch goroutines, per §5.
type Handler struct {
	cfg        *config.Config
	host       host.Host
	challenge  *challenge.Service
	limiter    *ratelimit.Limiter
	cache      *cache.Cache
	agg        aggregate.View
	sender     Sender
	isPrimary  bool
	tokenPerms map[uint64]config.EndpointPermissions
}

// New builds a Handler. Configured auth tokens are hashed once up front
// with xxhash (the same fast-whitelist pattern WoozyMasta-zenit uses for
// its allowed-application set) so the per-request authorization check on
// the dispatch path never keeps raw bearer tokens resident as map keys.
func New(cfg *config.Config, h host.Host, ch *challenge.Service, rl *ratelimit.Limiter, c *cache.Cache, agg aggregate.View, sender Sender, isPrimary bool) *Handler {
	tokenPerms := make(map[uint64]config.EndpointPermissions, len(cfg.Authentication.Tokens))
	for token, perm := range cfg.Authentication.Tokens {
		tokenPerms[xxhash.Sum64String(token)] = perm
	}
	return &Handler{
		cfg:        cfg,
		host:       h,
		challenge:  ch,
		limiter:    rl,
		cache:      c,
		agg:        agg,
		sender:     sender,
		isPrimary:  isPrimary,
		tokenPerms: tokenPerms,
	}
}

func (h *Handler) send(payload []byte, addr net.Addr) {
	if _, err := h.sender.WriteTo(payload, addr); err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Msg("failed to send response")
	}
}

func (h *Handler) allow(addr net.Addr) bool {
	if !h.cfg.RateLimitEnabled {
		return true
	}
	return h.limiter.Allow(addr)
}

// HandleV1 implements the V1 legacy flow: rate-limit, optionally serve
// from cache, otherwise build and send.
func (h *Handler) HandleV1(data []byte, addr net.Addr) {
	if !h.allow(addr) {
		return
	}

	req, err := wire.DecodeV1Request(data)
	if err != nil {
		return
	}

	slot := cache.SlotBasic
	if req.Type == wire.V1TypeFull {
		slot = cache.SlotFull
	}

	build := func() ([]byte, error) {
		resp, err := h.buildV1Response(req.Type)
		if err != nil {
			return nil, err
		}
		return wire.EncodeV1Response(resp), nil
	}

	var payload []byte
	if h.cfg.CacheEnabled {
		payload, err = h.cache.GetOrBuild(slot, build)
	} else {
		payload, err = build()
	}
	if err != nil {
		log.Warn().Err(err).Msg("v1 response build failed, dropping")
		return
	}

	h.send(payload, addr)
}

func (h *Handler) buildV1Response(reqType byte) (wire.V1Response, error) {
	snap := host.Take(h.host)
	full := reqType == wire.V1TypeFull

	resp := wire.V1Response{
		Type:       reqType,
		ServerName: snap.ServerName,
		MOTD:       h.effectiveMOTD(snap.MOTD),
		Online:     uint32(len(snap.Players)),
		Max:        uint32(snap.MaxPlayers),
		Port:       uint32(snap.BindPort),
		Version:    snap.Version,
	}

	if !full {
		return resp, nil
	}
	resp.Full = true

	agg, err := h.agg.GetAggregate(true)
	if err != nil {
		return wire.V1Response{}, err
	}

	resp.Online += uint32(agg.TotalOnline)
	resp.Max += uint32(agg.TotalMax)

	if h.cfg.ShowPlayerList {
		for _, p := range snap.Players {
			resp.Players = append(resp.Players, wire.PlayerRef{Username: p.Username, UUID: p.UUID})
		}
		resp.Players = append(resp.Players, agg.NetworkPlayers...)
	}
	if h.cfg.ShowPlugins {
		resp.Plugins = snap.Plugins
	}
	resp.RemoteServers = agg.RemoteServers

	return resp, nil
}

func (h *Handler) effectiveMOTD(hostMOTD string) string {
	if h.cfg.UseCustomMotd {
		return h.cfg.CustomMotd
	}
	return hostMOTD
}

// HandleV2 implements the V2 flow from §4.6.
func (h *Handler) HandleV2(data []byte, addr net.Addr) {
	family, reqType, rest, err := wire.DecodeV2RequestHeader(data)
	if err != nil {
		return
	}

	if reqType == wire.V2TypeChallenge {
		if !h.allow(addr) {
			return
		}
		token := h.challenge.Mint(addr)
		h.send(wire.EncodeChallengeResponse(family, token), addr)
		return
	}

	if !h.allow(addr) {
		return
	}

	req, err := wire.DecodeV2Request(family, reqType, rest)
	if err != nil {
		return
	}

	if !h.challenge.Verify(req.Token[:], addr, h.cfg.ChallengeTokenValiditySeconds) {
		return
	}

	endpoint := req.Type
	if endpoint != wire.V2TypeBasic && endpoint != wire.V2TypePlayers {
		endpoint = wire.V2TypeBasic
	}

	if !h.authorized(endpoint, req) {
		h.sendAuthRequired(family, req.RequestID, addr)
		return
	}

	switch endpoint {
	case wire.V2TypePlayers:
		h.respondPlayers(family, req, addr)
	default:
		h.respondBasic(family, req, addr)
	}
}

func (h *Handler) authorized(endpoint byte, req wire.V2Request) bool {
	perm := h.cfg.Authentication.PublicAccess
	if endpointAllowed(perm, endpoint) {
		return true
	}
	if req.HasAuthToken() {
		if tokenPerm, ok := h.tokenPerms[xxhash.Sum64String(req.AuthToken)]; ok {
			return endpointAllowed(tokenPerm, endpoint)
		}
	}
	return false
}

func endpointAllowed(perm config.EndpointPermissions, endpoint byte) bool {
	if endpoint == wire.V2TypePlayers {
		return perm.Players
	}
	return perm.Basic
}

func (h *Handler) sendAuthRequired(family wire.Family, requestID uint32, addr net.Addr) {
	snap := host.Take(h.host)
	info := wire.ServerInfo{
		ServerName: snap.ServerName,
		MOTD:       h.effectiveMOTD(snap.MOTD),
		Online:     int32(len(snap.Players)),
		Max:        int32(snap.MaxPlayers),
		Version:    snap.Version,
	}
	payload := wire.EncodeTLV(wire.TLVServerInfo, wire.EncodeServerInfo(info))
	resp := wire.V2Response{
		Family:    family,
		Flags:     wire.FlagAuthRequired,
		RequestID: requestID,
		Payload:   payload,
	}
	h.send(wire.EncodeV2Response(resp), addr)
}

func (h *Handler) respondBasic(family wire.Family, req wire.V2Request, addr net.Addr) {
	snap := host.Take(h.host)
	agg, err := h.agg.GetAggregate(false)
	if err != nil {
		log.Warn().Err(err).Msg("aggregate read failed, dropping v2 basic request")
		return
	}

	online := int32(len(snap.Players)) + agg.TotalOnline
	max := int32(snap.MaxPlayers) + agg.TotalMax

	var flags uint16
	if agg.Contributed() {
		flags |= wire.FlagIsNetwork
	}

	info := wire.ServerInfo{
		ServerName: snap.ServerName,
		MOTD:       h.effectiveMOTD(snap.MOTD),
		Online:     online,
		Max:        max,
		Version:    snap.Version,
	}

	if req.Flags&wire.FlagHasAddress != 0 && snap.BindPort != 0 {
		flags |= wire.FlagHasAddress
		info.HasAddress = true
		info.Port = uint16(snap.BindPort)
	}

	payload := wire.EncodeTLV(wire.TLVServerInfo, wire.EncodeServerInfo(info))
	resp := wire.V2Response{
		Family:    family,
		Flags:     flags,
		RequestID: req.RequestID,
		Payload:   payload,
	}
	h.send(wire.EncodeV2Response(resp), addr)
}

func (h *Handler) respondPlayers(family wire.Family, req wire.V2Request, addr net.Addr) {
	snap := host.Take(h.host)
	agg, err := h.agg.GetAggregate(true)
	if err != nil {
		log.Warn().Err(err).Msg("aggregate read failed, dropping v2 players request")
		return
	}

	players := make([]wire.PlayerRef, 0, len(snap.Players)+len(agg.NetworkPlayers))
	for _, p := range snap.Players {
		players = append(players, wire.PlayerRef{Username: p.Username, UUID: p.UUID})
	}
	players = append(players, agg.NetworkPlayers...)

	sort.Slice(players, func(i, j int) bool {
		if players[i].Username != players[j].Username {
			return players[i].Username < players[j].Username
		}
		return uuidString(players[i].UUID) < uuidString(players[j].UUID)
	})

	page := wire.BuildPlayerListPage(players, int(req.Offset))

	var flags uint16
	if page.HasMore {
		flags |= wire.FlagHasMorePlayers
	}
	if agg.Contributed() {
		flags |= wire.FlagIsNetwork
	}

	payload := wire.EncodeTLV(wire.TLVPlayerList, wire.EncodePlayerList(page))
	resp := wire.V2Response{
		Family:    family,
		Flags:     flags,
		RequestID: req.RequestID,
		Payload:   payload,
	}
	h.send(wire.EncodeV2Response(resp), addr)
}

func uuidString(u wire.UUID) string {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(u.MSB >> (8 * (7 - i)))
		buf[8+i] = byte(u.LSB >> (8 * (7 - i)))
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range buf {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}
