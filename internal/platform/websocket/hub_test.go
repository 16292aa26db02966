package websocket

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

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/platform/auth"
	"github.com/hadadahealth/reports/internal/platform/db"
)

func newClient(id, topic string, buf int) *Client {
	return &Client{ID: id, Topic: topic, Send: make(chan []byte, buf)}
}

func practiceCtx(practice string) context.Context {
	return context.WithValue(context.Background(), db.PracticeIDKey, practice)
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", Topic("acme", "dr-a"), 4)

	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("acme:dr-a") != 1 {
		t.Fatalf("expected 1 client on acme:dr-a, got %d", hub.TopicCount("acme:dr-a"))
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_PublishScopedToPracticeAndRecipient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine := newClient("mine", Topic("acme", "dr-a"), 4)
	otherUser := newClient("other-user", Topic("acme", "dr-b"), 4)
	otherPractice := newClient("other-practice", Topic("beta", "dr-a"), 4)
	for _, c := range []*Client{mine, otherUser, otherPractice} {
		hub.Register(c)
	}

	hub.Publish(practiceCtx("acme"), "dr-a", "notification.created", map[string]string{"title": "Report overdue"})

	select {
	case raw := <-mine.Send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != "notification.created" {
			t.Errorf("expected notification.created, got %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
		data, _ := ev.Data.(map[string]any)
		if data["title"] != "Report overdue" {
			t.Errorf("unexpected data: %v", ev.Data)
		}
	default:
		t.Fatal("expected an event for the recipient")
	}

	for _, c := range []*Client{otherUser, otherPractice} {
		select {
		case <-c.Send:
			t.Errorf("client %s must not receive another inbox's event", c.ID)
		default:
		}
	}
}

func TestHub_PublishWithoutPracticeIsDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", Topic("", "dr-a"), 4)
	hub.Register(c)

	hub.Publish(context.Background(), "dr-a", "notification.created", nil)

	select {
	case <-c.Send:
		t.Fatal("expected no delivery without a practice in context")
	default:
	}
}

func TestHub_BroadcastSkipsFullBuffers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := newClient("slow", "acme:dr-a", 1)
	fast := newClient("fast", "acme:dr-a", 8)
	hub.Register(slow)
	hub.Register(fast)

	ev := Event{Type: "notification.read", Timestamp: time.Now()}
	if n := hub.Broadcast("acme:dr-a", ev); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if n := hub.Broadcast("acme:dr-a", ev); n != 1 {
		t.Fatalf("expected only the fast client on the second broadcast, got %d", n)
	}
	if len(fast.Send) != 2 {
		t.Fatalf("expected 2 queued frames on fast client, got %d", len(fast.Send))
	}
}

func TestHub_ConcurrentRegisterAndPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx := practiceCtx("acme")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", Topic("acme", "dr-a"), 32)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(ctx, "dr-a", "notification.created", nil)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected all clients unregistered, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://app.example"}, "", true},
		{"listed origin", []string{"https://app.example"}, "https://app.example", true},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"empty allow list", nil, "https://app.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(req); got != tt.want {
				t.Errorf("originChecker() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_StreamRequiresUser(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"*"}, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
	req = req.WithContext(practiceCtx("acme"))
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Stream(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_StreamRejectsPlainHTTP(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, []string{"*"}, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notifications/stream", nil)
	req = req.WithContext(auth.WithUser(practiceCtx("acme"), "dr-a", auth.RoleClinician))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Stream(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from the upgrader, got %d", rec.Code)
	}
	if hub.ClientCount() != 0 {
		t.Fatal("expected no client registered for a failed upgrade")
	}
}

func TestHandler_RouteRequiresClinician(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"*"}, zerolog.Nop())
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil)
	req = req.WithContext(auth.WithUser(practiceCtx("acme"), "someone", "reader"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_StreamDeliversInboxEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, []string{"*"}, zerolog.Nop())

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(practiceCtx("acme"), c.Request().Header.Get("X-Test-User"), auth.RoleClinician)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/notifications/stream"
	header := http.Header{"X-Test-User": []string{"dr-a"}}
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(Topic("acme", "dr-a")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(practiceCtx("acme"), "dr-b", "notification.created", map[string]string{"title": "not mine"})
	hub.Publish(practiceCtx("acme"), "dr-a", "notification.read_all", map[string]int64{"updated": 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != "notification.read_all" {
		t.Fatalf("expected notification.read_all, got %s", got.Type)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
