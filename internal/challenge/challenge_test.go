package challenge

import (
	"net"
	"testing"
)

func mustService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestMintVerifyRoundTrip(t *testing.T) {
	svc := mustService(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}

	token := svc.Mint(addr)
	if !svc.Verify(token[:], addr, 30) {
		t.Fatalf("expected freshly minted token to verify")
	}
}

func TestVerifyRejectsWrongSourceAddress(t *testing.T) {
	svc := mustService(t)
	minted := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	impersonator := &net.UDPAddr{IP: net.ParseIP("198.51.100.9"), Port: 27015}

	token := svc.Mint(minted)
	if svc.Verify(token[:], impersonator, 30) {
		t.Fatalf("expected token bound to a different address to be rejected")
	}
}

func TestVerifyAcceptsDifferentPortSameHost(t *testing.T) {
	svc := mustService(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	otherPort := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 28000}

	token := svc.Mint(addr)
	if !svc.Verify(token[:], otherPort, 30) {
		t.Fatalf("token is bound to the client IP only, not the port; expected it to still verify")
	}
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	svc := mustService(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	if svc.Verify([]byte{1, 2, 3}, addr, 30) {
		t.Fatalf("expected short token to be rejected")
	}
}

func TestVerifyRejectsForgedToken(t *testing.T) {
	svc := mustService(t)
	other, err := NewService("different-secret")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}

	token := other.Mint(addr)
	if svc.Verify(token[:], addr, 30) {
		t.Fatalf("expected token minted under a different key to be rejected")
	}
}

func TestEphemeralSecretGeneratedWhenEmpty(t *testing.T) {
	a, err := NewService("")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	b, err := NewService("")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}

	token := a.Mint(addr)
	if b.Verify(token[:], addr, 30) {
		t.Fatalf("expected two independently generated ephemeral secrets to differ")
	}
}
