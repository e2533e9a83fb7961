package serialmux

import (
	"path/filepath"
	"testing"
)

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	if _, err := NewRealSerialMux("/dev/null", PortOptions{Parity: "mark"}); err == nil {
		t.Error("expected error for invalid parity")
	}
}

func TestNewRealSerialMux_MissingPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyGATE0")
	if _, err := NewRealSerialMux(path, PortOptions{}); err == nil {
		t.Errorf("expected error opening %s", path)
	}
}
