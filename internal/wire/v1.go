package wire

// V1 (legacywire) is the pre-challenge query format: no auth, no
// pagination, and unsigned 32-bit counts where V2 writes the same counts
// as signed int32 — a mismatch the design notes call out as an open
// question to preserve; this package does not "fix" it. See §4.2 and §9.

// V1Request is `HYQUERY\0` ‖ 1-byte type.
type V1Request struct {
	Type byte // V1TypeBasic or V1TypeFull
}

// DecodeV1Request parses a V1 request body (magic already classified by
// the demultiplexer, but still verified here).
func DecodeV1Request(data []byte) (V1Request, error) {
	r := NewReader(data)
	if err := requireMagic(r, MagicV1Query); err != nil {
		return V1Request{}, err
	}
	t, err := r.ReadByte()
	if err != nil {
		return V1Request{}, err
	}
	return V1Request{Type: t}, nil
}

// V1Response is the full set of fields a "full" response may carry; a
// "basic" response leaves Players/Plugins/RemoteServers nil and Full
// false.
type V1Response struct {
	Type          byte
	ServerName    string
	MOTD          string
	Online        uint32
	Max           uint32
	Port          uint32
	Version       string
	Full          bool
	Players       []PlayerRef
	Plugins       []string
	RemoteServers []RemoteServerSnapshot
}

// EncodeV1Response writes the response exactly as documented in §4.2:
// counts are uint32 throughout (unlike V2's int32 TLV fields — this
// asymmetry is intentional, see §9).
func EncodeV1Response(resp V1Response) []byte {
	w := NewWriter()
	w.WriteBytes(MagicV1Reply[:])
	w.WriteByte(resp.Type)
	w.WriteString(resp.ServerName)
	w.WriteString(resp.MOTD)
	w.WriteUint32(resp.Online)
	w.WriteUint32(resp.Max)
	w.WriteUint32(resp.Port)
	w.WriteString(resp.Version)

	if !resp.Full {
		return w.Bytes()
	}

	w.WriteUint32(uint32(len(resp.Players)))
	for _, p := range resp.Players {
		w.WriteString(p.Username)
		w.WriteUUID(p.UUID)
		w.WriteString(p.SourceServerID)
	}

	w.WriteUint32(uint32(len(resp.Plugins)))
	for _, plugin := range resp.Plugins {
		w.WriteString(plugin)
	}

	w.WriteUint32(uint32(len(resp.RemoteServers)))
	for _, rs := range resp.RemoteServers {
		w.WriteString(rs.ID)
		w.WriteString(rs.Name)
		w.WriteString(rs.MOTD)
		w.WriteUint32(rs.Online)
		w.WriteUint32(rs.Max)
		w.WriteByte(rs.Status)
		w.WriteInt64(rs.UpdatedAtMillis)
		// Nested worker player entries carry only username+UUID, unlike the
		// top-level player list: a remote server's own roster has no
		// source-server-id to tag (it is already scoped to that server).
		w.WriteUint32(uint32(len(rs.Players)))
		for _, p := range rs.Players {
			w.WriteString(p.Username)
			w.WriteUUID(p.UUID)
		}
	}

	return w.Bytes()
}

// DecodeV1Response parses a V1 response, used by tests and by any client
// embedding this package to verify wire fidelity round-trips.
func DecodeV1Response(data []byte) (V1Response, error) {
	r := NewReader(data)
	if err := requireMagic(r, MagicV1Reply); err != nil {
		return V1Response{}, err
	}

	var resp V1Response
	var err error
	if resp.Type, err = r.ReadByte(); err != nil {
		return V1Response{}, err
	}
	if resp.ServerName, err = r.ReadString(); err != nil {
		return V1Response{}, err
	}
	if resp.MOTD, err = r.ReadString(); err != nil {
		return V1Response{}, err
	}
	if resp.Online, err = r.ReadUint32(); err != nil {
		return V1Response{}, err
	}
	if resp.Max, err = r.ReadUint32(); err != nil {
		return V1Response{}, err
	}
	if resp.Port, err = r.ReadUint32(); err != nil {
		return V1Response{}, err
	}
	if resp.Version, err = r.ReadString(); err != nil {
		return V1Response{}, err
	}

	if resp.Type != V1TypeFull || r.Remaining() == 0 {
		return resp, nil
	}
	resp.Full = true

	playerCount, err := r.ReadUint32()
	if err != nil {
		return V1Response{}, err
	}
	resp.Players = make([]PlayerRef, 0, playerCount)
	for i := uint32(0); i < playerCount; i++ {
		var p PlayerRef
		if p.Username, err = r.ReadString(); err != nil {
			return V1Response{}, err
		}
		if p.UUID, err = r.ReadUUID(); err != nil {
			return V1Response{}, err
		}
		if p.SourceServerID, err = r.ReadString(); err != nil {
			return V1Response{}, err
		}
		resp.Players = append(resp.Players, p)
	}

	pluginCount, err := r.ReadUint32()
	if err != nil {
		return V1Response{}, err
	}
	resp.Plugins = make([]string, 0, pluginCount)
	for i := uint32(0); i < pluginCount; i++ {
		name, err := r.ReadString()
		if err != nil {
			return V1Response{}, err
		}
		resp.Plugins = append(resp.Plugins, name)
	}

	remoteCount, err := r.ReadUint32()
	if err != nil {
		return V1Response{}, err
	}
	resp.RemoteServers = make([]RemoteServerSnapshot, 0, remoteCount)
	for i := uint32(0); i < remoteCount; i++ {
		var rs RemoteServerSnapshot
		if rs.ID, err = r.ReadString(); err != nil {
			return V1Response{}, err
		}
		if rs.Name, err = r.ReadString(); err != nil {
			return V1Response{}, err
		}
		if rs.MOTD, err = r.ReadString(); err != nil {
			return V1Response{}, err
		}
		if rs.Online, err = r.ReadUint32(); err != nil {
			return V1Response{}, err
		}
		if rs.Max, err = r.ReadUint32(); err != nil {
			return V1Response{}, err
		}
		if rs.Status, err = r.ReadByte(); err != nil {
			return V1Response{}, err
		}
		if rs.UpdatedAtMillis, err = r.ReadInt64(); err != nil {
			return V1Response{}, err
		}
		rsPlayerCount, err := r.ReadUint32()
		if err != nil {
			return V1Response{}, err
		}
		rs.Players = make([]PlayerRef, 0, rsPlayerCount)
		for j := uint32(0); j < rsPlayerCount; j++ {
			var p PlayerRef
			if p.Username, err = r.ReadString(); err != nil {
				return V1Response{}, err
			}
			if p.UUID, err = r.ReadUUID(); err != nil {
				return V1Response{}, err
			}
			rs.Players = append(rs.Players, p)
		}
		resp.RemoteServers = append(resp.RemoteServers, rs)
	}

	return resp, nil
}
