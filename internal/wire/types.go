package wire

// PlayerRef is one player entry as it appears on the wire. SourceServerID
// is only meaningful in V1 "full" responses and in a merged V2 PLAYER_LIST
// built from aggregate data; it is empty for a purely local player.
type PlayerRef struct {
	Username       string
	UUID           UUID
	SourceServerID string
}

// RemoteServerSnapshot is one fleet member as embedded in a V1 "full"
// response's remote-server list. Its Players entries are written with
// only username+UUID on the wire (SourceServerID is never populated or
// encoded here) since each entry is already scoped to this server.
type RemoteServerSnapshot struct {
	ID              string
	Name            string
	MOTD            string
	Online          uint32
	Max             uint32
	Status          byte
	UpdatedAtMillis int64
	Players         []PlayerRef
}
