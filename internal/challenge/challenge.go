// Package challenge implements the stateless, address-bound anti-
// amplification token service described in §4.3. No per-client memory is
// kept: a token is just a window counter and a truncated HMAC that the
// server can recompute on verification.
package challenge

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// WindowSeconds is the epoch bucket width tokens are minted against.
const WindowSeconds = 30

const (
	tokenLen        = 32
	windowFieldLen  = 4
	zeroFieldLen    = 4
	macLen          = tokenLen - windowFieldLen - zeroFieldLen // 24
)

// Service mints and verifies challenge tokens. It holds only its HMAC key
// material, which is read-only after construction (§5), so a single
// Service is safe to share across every dispatch goroutine — there is no
// mutable state to race on. crypto/hmac.New's returned hash.Hash is not
// safe for concurrent use, so Mint/Verify build a fresh instance per call
// rather than sharing one, which is the "per-worker-thread or pooled MAC
// instances" guidance in §9 taken to its simplest correct form.
type Service struct {
	key []byte
}

// NewService builds a Service. If secret is non-empty, its UTF-8 bytes
// become the HMAC key. Otherwise 32 cryptographically random bytes are
// generated, meaning every token issued before a restart stops verifying
// after it.
func NewService(secret string) (*Service, error) {
	if secret != "" {
		return &Service{key: []byte(secret)}, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("challenge: failed to generate ephemeral secret: %w", err)
	}
	return &Service{key: key}, nil
}

func currentWindow(now time.Time) uint32 {
	return uint32(now.Unix() / WindowSeconds)
}

func addrBytes(addr net.Addr) []byte {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return []byte(host)
	}
	if ip.Is4() {
		a4 := ip.As4()
		return a4[:]
	}
	a16 := ip.As16()
	return a16[:]
}

func (s *Service) mac(window uint32, addr []byte) [macLen]byte {
	var windowBytes [4]byte
	binary.BigEndian.PutUint32(windowBytes[:], window)

	h := hmac.New(sha256.New, s.key)
	h.Write(windowBytes[:])
	h.Write(addr)
	sum := h.Sum(nil)

	var out [macLen]byte
	copy(out[:], sum[:macLen])
	return out
}

// Mint produces a token bound to addr's current window.
func (s *Service) Mint(addr net.Addr) [32]byte {
	return s.mintForWindow(currentWindow(time.Now()), addr)
}

func (s *Service) mintForWindow(window uint32, addr net.Addr) [32]byte {
	var token [32]byte
	binary.BigEndian.PutUint32(token[0:4], window)
	// bytes 4..8 are the zero field, already zero.
	mac := s.mac(window, addrBytes(addr))
	copy(token[8:], mac[:])
	return token
}

// Verify reports whether token was minted for addr and has not yet expired
// under validitySeconds. It never accepts a token whose window is in the
// future relative to the server's clock.
func (s *Service) Verify(token []byte, addr net.Addr, validitySeconds int) bool {
	if len(token) != tokenLen {
		return false
	}

	window := binary.BigEndian.Uint32(token[0:4])
	now := currentWindow(time.Now())
	if window > now {
		return false
	}

	addrB := addrBytes(addr)
	maxSteps := (validitySeconds + WindowSeconds - 1) / WindowSeconds
	if maxSteps < 1 {
		maxSteps = 1
	}

	for i := 0; i < maxSteps; i++ {
		candidate := now - uint32(i)
		if candidate != window {
			continue
		}
		expected := s.mac(window, addrB)
		if hmac.Equal(expected[:], token[8:]) {
			return true
		}
		return false
	}
	return false
}
