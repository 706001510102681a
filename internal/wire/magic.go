// Package wire implements the on-the-wire byte formats for every HyQuery
// frame: the legacy V1 query/reply, the challenge-authenticated V2
// query/reply (in its two magic-byte families), and the UDP coordinator's
// status/ACK frames. Every encode/decode routine here is byte-exact against
// the documented format — nothing is "cleaned up" relative to the spec's
// documented quirks (see the package-level comments in v1.go and status.go).
package wire

// MagicLen is the fixed length, in bytes, of every frame's leading magic.
const MagicLen = 8

// Prefixes recognized by the demultiplexer, verbatim byte sequences.
var (
	MagicV1Query  = [MagicLen]byte{'H', 'Y', 'Q', 'U', 'E', 'R', 'Y', 0}
	MagicV1Reply  = [MagicLen]byte{'H', 'Y', 'R', 'E', 'P', 'L', 'Y', 0}
	MagicV2Hy     = [MagicLen]byte{'H', 'Y', 'Q', 'U', 'E', 'R', 'Y', '2'}
	MagicV2HyRepl = [MagicLen]byte{'H', 'Y', 'R', 'E', 'P', 'L', 'Y', '2'}
	MagicV2One    = [MagicLen]byte{'O', 'N', 'E', 'Q', 'U', 'E', 'R', 'Y'}
	MagicV2OneRep = [MagicLen]byte{'O', 'N', 'E', 'R', 'E', 'P', 'L', 'Y'}
	MagicStatus   = [MagicLen]byte{'H', 'Y', 'S', 'T', 'A', 'T', 'U', 'S'}
	MagicStatusOK = [MagicLen]byte{'H', 'Y', 'S', 'T', 'A', 'T', 'O', 'K'}
)

// Family identifies which V2 magic-byte pair a request/response uses.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyHyquery
	FamilyOnequery
)

// ResponseMagic returns the response magic that corresponds to this
// request family (ONEQUERY -> ONEREPLY, HYQUERY2 -> HYREPLY2).
func (f Family) ResponseMagic() [MagicLen]byte {
	if f == FamilyOnequery {
		return MagicV2OneRep
	}
	return MagicV2HyRepl
}

// V2RequestFamily classifies an 8-byte prefix as a V2 request family, or
// FamilyUnknown if it matches neither.
func V2RequestFamily(prefix [MagicLen]byte) Family {
	switch prefix {
	case MagicV2Hy:
		return FamilyHyquery
	case MagicV2One:
		return FamilyOnequery
	default:
		return FamilyUnknown
	}
}

// Classification is the demultiplexer's disposition for an inbound
// datagram, per §4.1.
type Classification int

const (
	ClassForeign Classification = iota
	ClassV1Query
	ClassV2Query
	ClassWorkerStatus
	ClassRecognizedButRejected // reply/ack magics seen inbound: drop, never forward
)

// Classify inspects an 8-byte prefix and returns its disposition. It does
// not consider whether V1/V2 are enabled or whether the caller is a
// primary — that policy decision belongs to the demultiplexer, which has
// the config in hand.
func Classify(prefix [MagicLen]byte) Classification {
	switch prefix {
	case MagicV1Query:
		return ClassV1Query
	case MagicV2Hy, MagicV2One:
		return ClassV2Query
	case MagicStatus:
		return ClassWorkerStatus
	case MagicStatusOK, MagicV1Reply, MagicV2HyRepl, MagicV2OneRep:
		return ClassRecognizedButRejected
	default:
		return ClassForeign
	}
}

// V1 request types.
const (
	V1TypeBasic byte = 0x00
	V1TypeFull  byte = 0x01
)

// V2 request types.
const (
	V2TypeChallenge byte = 0x00
	V2TypeBasic     byte = 0x01
	V2TypePlayers   byte = 0x02
)

// V2 response flags.
const (
	FlagHasMorePlayers uint16 = 0x0001
	FlagAuthRequired   uint16 = 0x0002
	FlagIsNetwork      uint16 = 0x0010
	FlagHasAddress     uint16 = 0x0020
)

// FlagHasAuthToken marks bit 0 of the *request* flags field (BASIC/PLAYERS)
// as carrying an appended auth token. It shares a numeric value with
// FlagHasMorePlayers but lives in a disjoint field (request vs response),
// per §4.2.
const FlagHasAuthToken uint16 = 0x0001

// V2ResponseVersion is the sole defined response header version.
const V2ResponseVersion byte = 0x01

// TLV payload types.
const (
	TLVServerInfo uint16 = 0x0001
	TLVPlayerList uint16 = 0x0002
)

// Status ACK status codes.
const (
	StatusOK          byte = 0x00
	StatusUnknownID   byte = 0x01
	StatusBadHMAC     byte = 0x02
	StatusStale       byte = 0x03
)

// StatusFrameVersion is the sole defined status frame version.
const StatusFrameVersion byte = 0x01

// SafeMTU is the MTU ceiling from §4.2/§8: no response may exceed this many
// bytes.
const SafeMTU = 1400

// V2ResponseHeaderLen is the fixed size of a V2 response header (8-byte
// magic + 1-byte version + 2-byte flags + 4-byte request id + 2-byte
// payload length).
const V2ResponseHeaderLen = 17

// challengeResponseFixedLen is version byte + 32-byte token + 7 reserved
// bytes following the magic in a challenge response (see §4.2: 40 bytes
// after the magic, 48 bytes total).
const challengeResponseFixedLen = 1 + 32 + 7

// MaxPlayerListPayload is the byte budget available to PLAYERS entries
// after subtracting the response header and a conservative allowance for
// the PLAYER_LIST TLV envelope and its fixed int32 fields, per §4.2:
// SAFE_MTU(1400) - 17 - 50 = 1333.
const MaxPlayerListPayload = SafeMTU - V2ResponseHeaderLen - 50

// PlayerEntrySize is the per-entry budget decrement used while paginating:
// 2-byte length prefix + username bytes + 16-byte UUID. Called out
// separately here because the caller needs it per-entry, unlike the fixed
// MaxPlayerListPayload budget.
func PlayerEntrySize(username string) int {
	return 2 + len(username) + 16
}
