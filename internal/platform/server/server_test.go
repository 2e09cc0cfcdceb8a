package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWithProbes(t *testing.T) {
	app := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	var readyErr error
	handler := WithProbes(app, func(context.Context) error { return readyErr })

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr := get("/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}
	readyErr = errors.New("nats is not connected: RECONNECTING")
	if rr := get("/readyz"); rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "RECONNECTING") {
		t.Fatalf("readyz when not ready: %d %q", rr.Code, rr.Body.String())
	}
	if rr := get("/metrics"); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# TYPE") {
		t.Fatalf("metrics: %d", rr.Code)
	}
	if rr := get("/api/v1/matches/m1"); rr.Code != http.StatusTeapot {
		t.Fatalf("app route not mounted: %d", rr.Code)
	}
}

func TestNew_StreamingDropsWriteTimeout(t *testing.T) {
	if srv := New(":0", http.NotFoundHandler(), false); srv.WriteTimeout == 0 {
		t.Fatal("api server should have a write timeout")
	}
	if srv := New(":0", http.NotFoundHandler(), true); srv.WriteTimeout != 0 {
		t.Fatal("streaming server must not have a write timeout")
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := New("127.0.0.1:0", http.NotFoundHandler(), false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestCheckNATS_Nil(t *testing.T) {
	if err := CheckNATS(nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
	if err := CheckPostgres(context.Background(), nil); err != nil {
		t.Fatalf("nil pool should pass: %v", err)
	}
}
