package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/grader"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRuntimeServesSession(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Bus.Port = -1
	cfg.Grading.Scale = 15

	rt := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("runtime never became ready")
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Get(base + "/session")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var snap grader.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if snap.State != "idle" || snap.Scale != 15 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runtime returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestHandlersBeforeStart(t *testing.T) {
	rt := New(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	rt.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	rt.handleSession(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("session = %d, want 503", rec.Code)
	}
}

func TestBackendSelection(t *testing.T) {
	if _, err := newRecognizer(config.STTConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatal("exec recognizer without command must fail")
	}
	if rec, err := newRecognizer(config.STTConfig{Mode: "mock"}); err != nil || rec == nil {
		t.Fatalf("mock recognizer: %v", err)
	}
	if _, err := newSynthesizer(config.TTSConfig{Mode: "exec", Command: "piper"}); err != nil {
		t.Fatalf("exec synth: %v", err)
	}
}
