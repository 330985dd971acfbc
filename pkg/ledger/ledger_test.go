package ledger

import (
	"bytes"
	"testing"
	"time"
)

func TestCanonicalBytesDeterministicAndFieldSensitive(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := CanonicalBytes(1, GenesisPreviousHash, ts, "payload", "signer-pub")
	b := CanonicalBytes(1, GenesisPreviousHash, ts, "payload", "signer-pub")
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical inputs to produce identical canonical bytes")
	}

	// Concatenating "" + "longsuffix" must not collide with "longsuffix" + "".
	c := CanonicalBytes(1, GenesisPreviousHash, ts, "", "longsuffixvalue")
	d := CanonicalBytes(1, GenesisPreviousHash, ts, "longsuffixvalue", "")
	if bytes.Equal(c, d) {
		t.Fatal("expected length-prefixing to prevent field-boundary collisions")
	}

	e := CanonicalBytes(2, GenesisPreviousHash, ts, "payload", "signer-pub")
	if bytes.Equal(a, e) {
		t.Fatal("expected a different block number to change the canonical bytes")
	}
}

func TestCanonicalBytesForBlockMatchesCanonicalBytes(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	block := &Block{Number: 5, PreviousHash: "prev", Timestamp: ts, Data: "d", SignerPublicKey: "pk"}

	want := CanonicalBytes(5, "prev", ts, "d", "pk")
	got := CanonicalBytesForBlock(block)
	if !bytes.Equal(want, got) {
		t.Fatal("CanonicalBytesForBlock diverged from CanonicalBytes")
	}
}

func TestAuthorizedKeyActiveAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	key := &AuthorizedKey{CreatedAt: created, RevokedAt: &revoked}

	if key.ActiveAt(created.Add(-time.Hour)) {
		t.Fatal("expected key to be inactive before its creation time")
	}
	if !key.ActiveAt(created.Add(time.Hour)) {
		t.Fatal("expected key to be active between creation and revocation")
	}
	if key.ActiveAt(revoked) {
		t.Fatal("expected key to be inactive exactly at its revocation time")
	}
	if key.ActiveAt(revoked.Add(time.Hour)) {
		t.Fatal("expected key to be inactive after revocation")
	}

	neverRevoked := &AuthorizedKey{CreatedAt: created}
	if !neverRevoked.ActiveAt(revoked.Add(24 * time.Hour)) {
		t.Fatal("expected a never-revoked key to remain active indefinitely")
	}
}

func TestTermVisibilityMapResolution(t *testing.T) {
	m := TermVisibilityMap{
		Default:   VisibilityPublic,
		Overrides: map[string]TermVisibility{"secret": VisibilityPrivate},
	}
	if m.VisibilityOf("ordinary") != VisibilityPublic {
		t.Fatal("expected default visibility for an un-overridden term")
	}
	if m.VisibilityOf("secret") != VisibilityPrivate {
		t.Fatal("expected override to take precedence")
	}

	var empty TermVisibilityMap
	if empty.VisibilityOf("anything") != VisibilityPublic {
		t.Fatal("expected a zero-value map to default to public")
	}
}
