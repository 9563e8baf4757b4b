package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is a scripted transcription service: it records received audio
// frames and pushes a fixed sequence of result messages to the client.
type fakeBackend struct {
	server   *httptest.Server
	script   []string
	frames   chan []byte
	upgraded chan struct{}
}

func newFakeBackend(t *testing.T, script []string) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		script:   script,
		frames:   make(chan []byte, 64),
		upgraded: make(chan struct{}),
	}

	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		close(b.upgraded)

		for _, msg := range b.script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}

		// Keep reading so client audio frames have somewhere to go.
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				b.frames <- data
			}
		}
	}))

	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBackend) close() {
	b.server.Close()
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:         "test-key",
		Model:          "nova-2",
		Endpointing:    1200 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		BaseURL:        baseURL,
	}
}

func TestUtteranceDelivery(t *testing.T) {
	backend := newFakeBackend(t, []string{
		// Interim result: must be discarded.
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"yes go"}]}}`,
		// Finalized pieces accumulate.
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Yes,"}]}}`,
		// speech_final marks the utterance boundary.
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"go ahead"}]}}`,
	})
	defer backend.close()

	utterances := make(chan string, 4)
	rec := NewRecognizer(testConfig(backend.url()), testLogger(), func(text string) {
		utterances <- text
	})
	defer rec.Close()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case text := <-utterances:
		if text != "Yes, go ahead" {
			t.Errorf("expected %q, got %q", "Yes, go ahead", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance delivered")
	}

	// Exactly one callback per utterance boundary.
	select {
	case extra := <-utterances:
		t.Errorf("unexpected extra utterance: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUtteranceEndFlushes(t *testing.T) {
	backend := newFakeBackend(t, []string{
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hold on"}]}}`,
		`{"type":"UtteranceEnd"}`,
	})
	defer backend.close()

	utterances := make(chan string, 4)
	rec := NewRecognizer(testConfig(backend.url()), testLogger(), func(text string) {
		utterances <- text
	})
	defer rec.Close()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case text := <-utterances:
		if text != "hold on" {
			t.Errorf("expected %q, got %q", "hold on", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance delivered")
	}
}

func TestEmptyBoundaryNotDelivered(t *testing.T) {
	backend := newFakeBackend(t, []string{
		// Boundary with nothing accumulated: no callback.
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
		`{"type":"UtteranceEnd"}`,
		// A real utterance afterwards proves the loop kept running.
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`,
	})
	defer backend.close()

	utterances := make(chan string, 4)
	rec := NewRecognizer(testConfig(backend.url()), testLogger(), func(text string) {
		utterances <- text
	})
	defer rec.Close()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case text := <-utterances:
		if text != "hello" {
			t.Errorf("expected %q, got %q", "hello", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance delivered")
	}
}

func TestSendAudioForwardsFrames(t *testing.T) {
	backend := newFakeBackend(t, nil)
	defer backend.close()

	rec := NewRecognizer(testConfig(backend.url()), testLogger(), nil)
	defer rec.Close()

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-backend.upgraded
	frame := []byte{0x7F, 0x80, 0x00}
	rec.SendAudio(frame)

	select {
	case got := <-backend.frames:
		if len(got) != len(frame) {
			t.Errorf("expected %d bytes, got %d", len(frame), len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not forwarded")
	}
}

func TestSendAudioAfterCloseDropsSilently(t *testing.T) {
	backend := newFakeBackend(t, nil)
	defer backend.close()

	rec := NewRecognizer(testConfig(backend.url()), testLogger(), nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec.Close()
	rec.SendAudio([]byte{0x01}) // must not panic or block
}

func TestStartUnavailable(t *testing.T) {
	// Plain HTTP server that never upgrades.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadRequest)
	}))
	defer srv.Close()

	rec := NewRecognizer(testConfig("ws"+strings.TrimPrefix(srv.URL, "http")), testLogger(), nil)
	defer rec.Close()

	err := rec.Start(context.Background())
	if !errors.Is(err, ErrRecognizerUnavailable) {
		t.Errorf("expected ErrRecognizerUnavailable, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	backend := newFakeBackend(t, nil)
	defer backend.close()

	rec := NewRecognizer(testConfig(backend.url()), testLogger(), nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec.Close()
	rec.Close()
}

func TestCloseBeforeStart(t *testing.T) {
	rec := NewRecognizer(testConfig("ws://localhost:1"), testLogger(), nil)
	rec.Close()
	rec.Close()
}

func TestBuildURLParameters(t *testing.T) {
	rec := NewRecognizer(testConfig("wss://api.example.com/v1/listen"), testLogger(), nil)

	endpoint, err := rec.buildURL()
	if err != nil {
		t.Fatalf("buildURL failed: %v", err)
	}

	for _, want := range []string{
		"encoding=mulaw",
		"sample_rate=8000",
		"channels=1",
		"interim_results=false",
		"endpointing=1200",
		"model=nova-2",
		"punctuate=true",
	} {
		if !strings.Contains(endpoint, want) {
			t.Errorf("endpoint missing %q: %s", want, endpoint)
		}
	}
}
