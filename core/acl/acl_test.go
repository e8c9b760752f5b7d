package acl

import (
	"testing"

	"synrelay/model"
)

func TestEmptyListAllowsAll(t *testing.T) {
	l := NewList("tcp/601", nil)
	if !l.IsAllowed("10.0.0.1", "", false) {
		t.Fatalf("expected empty list to allow all")
	}
}

func TestDenyWinsOnAmbiguity(t *testing.T) {
	l := NewList("tcp/601", []model.PermittedPeer{
		{Pattern: "*.example.com", Deny: false},
		{Pattern: "bad.example.com", Deny: true},
	})
	if l.IsAllowed("10.0.0.1", "bad.example.com", false) {
		t.Fatalf("expected deny pattern to win over an earlier allow match")
	}
	if !l.IsAllowed("10.0.0.1", "good.example.com", false) {
		t.Fatalf("expected good.example.com to be allowed")
	}
}

func TestCIDRPattern(t *testing.T) {
	l := NewList("tcp/601", []model.PermittedPeer{{Pattern: "10.0.0.0/24"}})
	if !l.IsAllowed("10.0.0.42", "", false) {
		t.Fatalf("expected address within CIDR to be allowed")
	}
	if l.IsAllowed("10.0.1.42", "", false) {
		t.Fatalf("expected address outside CIDR to be denied")
	}
}

func TestUnmatchedAddressIsNotAllowed(t *testing.T) {
	l := NewList("tcp/601", []model.PermittedPeer{{Pattern: "10.0.0.0/24"}})
	if l.IsAllowed("192.168.1.1", "", false) {
		t.Fatalf("expected address matching no entry to be denied")
	}
}

func TestIsAllowedTLSNameWildcard(t *testing.T) {
	l := NewList("tls/602", []model.PermittedPeer{{Pattern: "*.corp.internal"}})
	if !l.IsAllowedTLSName("host1.corp.internal") {
		t.Fatalf("expected wildcard TLS name match to be allowed")
	}
	if l.IsAllowedTLSName("host1.other.internal") {
		t.Fatalf("expected non-matching TLS name to be denied")
	}
}

func TestIsAllowedTLSNameEmptyVerifiedNameDenied(t *testing.T) {
	l := NewList("tls/602", []model.PermittedPeer{{Pattern: "*.corp.internal"}})
	if l.IsAllowedTLSName("") {
		t.Fatalf("expected empty verified name to be denied when list is non-empty")
	}
}
