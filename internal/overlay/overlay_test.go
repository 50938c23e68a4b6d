package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// fakeRelay is a minimal in-process WebSocket relay: it echoes every
// EVENT it receives back out to all its own connections' listeners
// and records inbound REQ filters, letting tests assert on both the
// publish and subscribe paths without a real relay server.
type fakeRelay struct {
	upgrader websocket.Upgrader
	server   *httptest.Server

	mu          sync.Mutex
	received    []json.RawMessage
	subsReceived int
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{}
	fr.server = httptest.NewServer(http.HandlerFunc(fr.handle))
	t.Cleanup(fr.server.Close)
	return fr
}

func (fr *fakeRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(fr.server.URL, "http")
}

func (fr *fakeRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var frameType string
		_ = json.Unmarshal(frame[0], &frameType)

		fr.mu.Lock()
		switch frameType {
		case "EVENT":
			fr.received = append(fr.received, frame[1])
		case "REQ":
			fr.subsReceived++
		}
		fr.mu.Unlock()

		// Echo EVENT frames back, simulating a relay rebroadcasting a
		// published event to a matching subscription on the same
		// connection, so the pool's own dispatch path is exercised.
		if frameType == "EVENT" {
			echo, err := json.Marshal([]json.RawMessage{mustRaw(`"EVENT"`), mustRaw(`"video-dvm"`), frame[1]})
			if err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, echo)
			}
		}
	}
}

func mustRaw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func (fr *fakeRelay) receivedCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.received)
}

func (fr *fakeRelay) subCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.subsReceived
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublishReachesFakeRelay(t *testing.T) {
	fr := newFakeRelay(t)
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	pool := New(kp, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Connect(ctx, []string{fr.wsURL()})
	waitFor(t, 2*time.Second, func() bool { return len(pool.ConnectedRelays()) == 1 })

	b := event.NewBuilder(event.KindStatus).WithContent("processing")
	ev, err := b.Sign(kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := pool.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return fr.receivedCount() == 1 })
}

func TestSubscribeSendsREQToRelay(t *testing.T) {
	fr := newFakeRelay(t)
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	pool := New(kp, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Connect(ctx, []string{fr.wsURL()})
	waitFor(t, 2*time.Second, func() bool { return len(pool.ConnectedRelays()) == 1 })

	filter := event.Filter{Kinds: []int{event.KindJobRequest}, Limit: 10}
	if err := pool.Subscribe(ctx, filter); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return fr.subCount() >= 1 })
}

func TestPublishWithNoRelaysReturnsError(t *testing.T) {
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	pool := New(kp, nil, nil)
	b := event.NewBuilder(event.KindStatus).WithContent("x")
	ev, err := b.Sign(kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	err = pool.Publish(context.Background(), ev)
	if !errors.Is(err, ErrNoRelaysConnected) {
		t.Fatalf("err = %v, want ErrNoRelaysConnected", err)
	}
	var overlayErr *OverlayError
	if !errors.As(err, &overlayErr) || overlayErr.Kind != KindNoRelays {
		t.Fatalf("err = %v, want *OverlayError with KindNoRelays", err)
	}
}

func TestHandlerReceivesDispatchedEvent(t *testing.T) {
	fr := newFakeRelay(t)
	kp, err := nostrcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	var mu sync.Mutex
	var gotIDs []string
	handler := func(relayURL string, ev *event.Event) {
		mu.Lock()
		defer mu.Unlock()
		gotIDs = append(gotIDs, ev.ID)
	}

	pool := New(kp, nil, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Connect(ctx, []string{fr.wsURL()})
	waitFor(t, 2*time.Second, func() bool { return len(pool.ConnectedRelays()) == 1 })

	b := event.NewBuilder(event.KindStatus).WithContent("processing")
	ev, err := b.Sign(kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := pool.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotIDs) == 1 && gotIDs[0] == ev.ID
	})
}
