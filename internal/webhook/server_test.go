package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// captureHandler records dispatched signals on a channel.
type captureHandler struct {
	signals chan types.Signal
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{signals: make(chan types.Signal, 8)}
}

func (h *captureHandler) HandleSignal(_ context.Context, sig types.Signal) bool {
	h.signals <- sig
	return true
}

func (h *captureHandler) receive(t *testing.T) types.Signal {
	t.Helper()
	select {
	case sig := <-h.signals:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("No signal was dispatched")
		return types.Signal{}
	}
}

func (h *captureHandler) expectNone(t *testing.T) {
	t.Helper()
	select {
	case sig := <-h.signals:
		t.Fatalf("Unexpected signal dispatched: %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestServer(handler SignalHandler) *Server {
	return NewServer(ServerConfig{Addr: ":0"}, handler, context.Background(), nil)
}

func TestServer_Root(t *testing.T) {
	s := newTestServer(newCaptureHandler())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "online" {
		t.Errorf("Body = %q, want online", rec.Body.String())
	}
}

func TestServer_Webhook_ValidSignal(t *testing.T) {
	h := newCaptureHandler()
	s := newTestServer(h)

	body := `{"ticker":"BTC","side":"buy","comment":"long entry"}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Body = %q, want ok", rec.Body.String())
	}

	sig := h.receive(t)
	if sig.Ticker != "BTC" || sig.Side != types.SideBuy || sig.Comment != "long entry" {
		t.Errorf("Dispatched signal = %+v", sig)
	}
}

func TestServer_Webhook_MalformedPayload(t *testing.T) {
	h := newCaptureHandler()
	s := newTestServer(h)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"ticker":`},
		{"unknown side", `{"ticker":"BTC","side":"hold"}`},
		{"missing ticker", `{"side":"buy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body)))

			if rec.Code != http.StatusNotFound {
				t.Errorf("Status = %d, want 404", rec.Code)
			}
			if rec.Body.String() != "nok" {
				t.Errorf("Body = %q, want nok", rec.Body.String())
			}
			h.expectNone(t)
		})
	}
}

func TestServer_Webhook_MethodNotAllowed(t *testing.T) {
	s := newTestServer(newCaptureHandler())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", rec.Code)
	}
}

func TestServer_TestBuy(t *testing.T) {
	h := newCaptureHandler()
	s := newTestServer(h)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test_buy?ticker=BTC", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}

	sig := h.receive(t)
	if sig.Ticker != "BTC" || sig.Side != types.SideBuy {
		t.Errorf("Dispatched signal = %+v", sig)
	}
	if sig.IsClose() {
		t.Error("test_buy should dispatch an entry signal")
	}
}

func TestServer_TestSell(t *testing.T) {
	h := newCaptureHandler()
	s := newTestServer(h)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test_sell?ticker=ETH", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}

	sig := h.receive(t)
	if sig.Ticker != "ETH" || sig.Side != types.SideSell {
		t.Errorf("Dispatched signal = %+v", sig)
	}
	if !sig.IsClose() {
		t.Error("test_sell should dispatch a close signal")
	}
}

func TestServer_TestSignal_MissingTicker(t *testing.T) {
	h := newCaptureHandler()
	s := newTestServer(h)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test_buy", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
	h.expectNone(t)
}

func TestServer_UnknownPath(t *testing.T) {
	s := newTestServer(newCaptureHandler())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}
