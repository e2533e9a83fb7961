package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()

	id, ch := d.Subscribe()
	if err := d.SendCommand("OE"); err != nil {
		t.Errorf("SendCommand: %v", err)
	}
	if err := d.Initialise(); err != nil {
		t.Errorf("Initialise: %v", err)
	}
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscribing after Close should return a closed channel")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDisabledSerialMux_Monitor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := NewDisabledSerialMux().Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor error = %v", err)
	}
}

func TestDisabledSerialMux_AdminRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewDisabledSerialMux().AttachAdminRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if w.Code != http.StatusOK || w.Body.String() != "serial disabled" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)
var _ SerialMuxInterface = (*SerialMux[*TestableSerialPort])(nil)
