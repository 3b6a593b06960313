package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptedMacaroonRoundTrip(t *testing.T) {
	raw := []byte{0x02, 0x01, 0x03, 'l', 'n', 'd', 0xff}
	blob, err := EncryptMacaroon(raw, "hunter2")
	if err != nil {
		t.Fatalf("EncryptMacaroon: %v", err)
	}

	path := filepath.Join(t.TempDir(), "admin.macaroon.enc")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadMacaroon(MacaroonConfig{EncryptedPath: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadMacaroon: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("macaroon = %x, want %x", got, raw)
	}

	if _, err := LoadMacaroon(MacaroonConfig{EncryptedPath: path, Password: "wrong"}); err == nil {
		t.Error("expected an error with the wrong password")
	}
}

func TestLoadMacaroonPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.macaroon")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadMacaroon(MacaroonConfig{Path: path})
	if err != nil {
		t.Fatalf("LoadMacaroon: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("macaroon = %x", got)
	}

	if _, err := LoadMacaroon(MacaroonConfig{}); err == nil {
		t.Error("expected an error with no source configured")
	}
}
