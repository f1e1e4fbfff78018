//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	httpapi "github.com/pairing-hub/pairing-hub/internal/api/http"
	"github.com/pairing-hub/pairing-hub/internal/application/browser"
	"github.com/pairing-hub/pairing-hub/internal/application/correlator"
	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/application/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/application/registration"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/bus"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/gateway"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/postgres"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sse"
)

func TestIcebreakerOverGateway(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()
	frames := openStream(t, server.URL)

	var session map[string]interface{}
	status := postJSON(t, server.URL+"/v1/negotiations", map[string]interface{}{
		"initiator":   "alice",
		"counterpart": "bob",
		"script_id":   "icebreaker",
	}, &session)
	if status != http.StatusCreated {
		t.Fatalf("initiate: status %d", status)
	}
	id := session["sessionId"].(string)

	frames.expect(t, "dm:bob", "INVITE")
	sendEvent(t, server.URL, "reaction", "bob", "dm:bob", "✅", "")

	frames.expect(t, "dm:bob", "PROMPT")
	sendEvent(t, server.URL, "message", "bob", "dm:bob", "", "I climb on weekends.")
	frames.expect(t, "dm:alice", "PROMPT")
	sendEvent(t, server.URL, "message", "alice", "dm:alice", "", "Board games.")

	confirmed := waitStatus(t, server.URL, id, "CONFIRMED")
	surface, _ := confirmed["surfaceId"].(string)
	if surface == "" {
		t.Fatalf("confirmed session has no surface")
	}
	answers, _ := confirmed["answers"].([]interface{})
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %v", confirmed["answers"])
	}

	status = postJSON(t, server.URL+"/v1/negotiations/"+id+"/close", map[string]interface{}{"participant_id": "bob"}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("close: status %d", status)
	}
	frames.expect(t, surface, "PROMPT")
	sendEvent(t, server.URL, "reaction", "alice", surface, "✅", "")
	sendEvent(t, server.URL, "reaction", "bob", surface, "✅", "")
	deadline := time.Now().Add(5 * time.Second)
	for {
		var history map[string]interface{}
		getJSON(t, server.URL+"/v1/participants/alice/history", &history)
		if items, _ := history["items"].([]interface{}); len(items) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one completed pairing, got %v", history["items"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	if code := getJSON(t, server.URL+"/v1/negotiations/"+id, &map[string]interface{}{}); code != http.StatusNotFound {
		t.Fatalf("closed session still served: status %d", code)
	}
}

func TestConcurrentInitiateOverGateway(t *testing.T) {
	server, cleanup := newTestServer(t)
	defer cleanup()
	openStream(t, server.URL)

	const n = 12
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = postJSON(t, server.URL+"/v1/negotiations", map[string]interface{}{
				"initiator":   "alice",
				"counterpart": fmt.Sprintf("p%d", i),
				"script_id":   "icebreaker",
			}, nil)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one session, got %d", created)
	}
}

type frameReader struct {
	ch chan gateway.Envelope
}

// openStream connects a bridge stream and decodes its message frames.
func openStream(t *testing.T, baseURL string) *frameReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/stream?client_id=bridge", nil)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	fr := &frameReader{ch: make(chan gateway.Envelope, 64)}
	ready := make(chan struct{})
	go func() {
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if line == ": connected" {
				close(ready)
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg sse.Message
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg) != nil || msg.Event != gateway.EventMessage {
				continue
			}
			var env gateway.Envelope
			if json.Unmarshal(msg.Data, &env) == nil {
				fr.ch <- env
			}
		}
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream not connected")
	}
	return fr
}

func (f *frameReader) expect(t *testing.T, surface, kind string) gateway.Envelope {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-f.ch:
			if env.SurfaceID == surface && env.Message != nil && string(env.Message.Kind) == kind {
				return env
			}
		case <-timeout:
			t.Fatalf("no %s on %s", kind, surface)
		}
	}
}

func sendEvent(t *testing.T, baseURL, kind, participant, source, symbol, text string) {
	t.Helper()
	status := postJSON(t, baseURL+"/v1/events", map[string]interface{}{
		"type":           kind,
		"participant_id": participant,
		"source_id":      source,
		"symbol":         symbol,
		"text":           text,
	}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("event %s from %s: status %d", kind, participant, status)
	}
}

func waitStatus(t *testing.T, baseURL, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var s map[string]interface{}
		if getJSON(t, baseURL+"/v1/negotiations/"+id, &s) == http.StatusOK && s["status"] == want {
			return s
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", id, want)
	return nil
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return 0
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Errorf("post %s: %v", url, err)
		return 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	_ = json.NewDecoder(resp.Body).Decode(out)
	return resp.StatusCode
}

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	scripts, err := script.Default()
	if err != nil {
		pool.Close()
		t.Fatalf("scripts: %v", err)
	}

	logger := zerolog.Nop()
	clock := clockwork.NewRealClock()
	sessionRepo := postgres.NewSessionRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)

	sseHub := sse.NewHub()
	eventBus := bus.New(64, logger)
	gw := gateway.New(sseHub, sessionRepo, logger)

	runner := dialog.NewRunner(correlator.New(eventBus, logger), gw, clock, logger)
	engine := negotiation.NewEngine(sessionRepo, profileRepo, scripts, runner, gw, clock, negotiation.DefaultConfig(), logger)
	registrationSvc := registration.NewService(profileRepo, scripts, runner, clock, 300*time.Second, logger)
	browserSvc := browser.NewService(profileRepo, engine, gw, clock, browser.Config{}, logger)
	normalizer := event.NewNormalizer([]string{"✅"}, []string{"❌"})

	apiServer := httpapi.NewServer(engine, browserSvc, registrationSvc, normalizer, eventBus, sseHub, clock, httpapi.Config{}, logger)
	server := httptest.NewServer(apiServer.Router())

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sseHub.Stop()
		server.Close()
		_ = engine.Shutdown(shutdownCtx)
		_ = registrationSvc.Shutdown(shutdownCtx)
		pool.Close()
	}

	return server, cleanup
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			session_answers,
			active_slots,
			sessions,
			completed_pairings,
			profile_answers,
			profile_tags,
			profiles
	`)
	return err
}
