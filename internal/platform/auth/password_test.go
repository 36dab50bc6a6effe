package auth

import (
	"encoding/hex"
	"testing"
)

func TestHashPassword_Verify(t *testing.T) {
	cred, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if cred.Iterations != DefaultIterations || cred.KeyLen != DefaultKeyLen || cred.Digest != DefaultDigest {
		t.Errorf("unexpected parameters %+v", cred)
	}
	if len(cred.Salt) != 32 {
		t.Errorf("expected 16-byte hex salt, got %q", cred.Salt)
	}
	if b, err := hex.DecodeString(cred.Hash); err != nil || len(b) != DefaultKeyLen {
		t.Errorf("expected %d-byte hex hash, got %q", DefaultKeyLen, cred.Hash)
	}

	if !cred.Verify("correct horse battery staple") {
		t.Error("expected password to verify")
	}
	if cred.Verify("wrong password") {
		t.Error("expected wrong password to fail")
	}
	if cred.Verify("") {
		t.Error("expected empty password to fail")
	}
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	a, _ := HashPassword("same")
	b, _ := HashPassword("same")
	if a.Salt == b.Salt || a.Hash == b.Hash {
		t.Error("expected distinct salts and hashes")
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestCredential_LegacyParameters(t *testing.T) {
	legacy := Credential{Salt: "abcd", Iterations: 1000, KeyLen: 32, Digest: "sha256"}
	derived, err := legacy.derive("secret")
	if err != nil {
		t.Fatal(err)
	}
	legacy.Hash = derived

	if !legacy.Verify("secret") {
		t.Error("expected legacy credential to verify with its stored parameters")
	}
	if !legacy.NeedsRehash() {
		t.Error("expected legacy credential to need rehash")
	}
}

func TestCredential_UnsupportedDigest(t *testing.T) {
	c := Credential{Salt: "x", Hash: "00", Iterations: 1, KeyLen: 1, Digest: "md5"}
	if c.Verify("anything") {
		t.Error("expected unsupported digest to fail verification")
	}
}

func TestDeriveCredential(t *testing.T) {
	c, err := DeriveCredential("secret-pass", "abcd", 1000, 32, "sha256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Verify("secret-pass") {
		t.Fatal("expected derived credential to verify")
	}
	if !c.NeedsRehash() {
		t.Fatal("expected non-default parameters to need a rehash")
	}
	if _, err := DeriveCredential("secret-pass", "abcd", 1000, 32, "md5"); err == nil {
		t.Fatal("expected unsupported digest to fail")
	}
}
