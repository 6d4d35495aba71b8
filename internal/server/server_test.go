package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/doormanhq/doorman/internal/platform"
)

// recordedEvents captures forwarded platform events.
type recordedEvents struct {
	joins []string
}

func (e *recordedEvents) MemberJoined(chatID, userID int64, name string)  {}
func (e *recordedEvents) WhitelistChanged(chatID, userID int64, ok bool) {}
func (e *recordedEvents) CallbackReceived(chatID, userID int64, callbackID, data string, messageID int) {
}

func (e *recordedEvents) JoinRequested(chatID, userID int64, name string) {
	e.joins = append(e.joins, name)
}

func testServer(events platform.Events) *Server {
	return New(":0", func() Status {
		return Status{
			Uptime:        "1m0s",
			Algorithm:     "token_bucket",
			Quizzes:       3,
			LaneDepths:    []int{0, 2},
			JobsProcessed: 10,
			JobsFailed:    1,
		}
	}, events)
}

func TestHealthz(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestStatusz(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Algorithm != "token_bucket" || got.Quizzes != 3 || got.JobsProcessed != 10 {
		t.Errorf("status = %+v", got)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestJoinRequestHook(t *testing.T) {
	events := &recordedEvents{}
	s := testServer(events)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"chat_id": -100, "user_id": 7, "name": "alice"}`)
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/join-request", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(events.joins) != 1 || events.joins[0] != "alice" {
		t.Errorf("forwarded joins = %v, want [alice]", events.joins)
	}
}

func TestJoinRequestHookDefaultsName(t *testing.T) {
	events := &recordedEvents{}
	s := testServer(events)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"chat_id": -100, "user_id": 7}`)
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/join-request", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(events.joins) != 1 || events.joins[0] != "7" {
		t.Errorf("forwarded joins = %v, want [7]", events.joins)
	}
}

func TestJoinRequestHookRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"missing ids", `{"name": "alice"}`},
		{"zero user", `{"chat_id": -100, "user_id": 0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := &recordedEvents{}
			s := testServer(events)
			rec := httptest.NewRecorder()
			s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/join-request", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(events.joins) != 0 {
				t.Errorf("bad input forwarded %v", events.joins)
			}
		})
	}
}

func TestJoinRequestHookDisabledWithoutSink(t *testing.T) {
	s := testServer(nil)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"chat_id": -100, "user_id": 7}`)
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/join-request", body))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestLimiterAllow(t *testing.T) {
	rl := &requestLimiter{rps: 1, burst: 2, bkt: map[string]*bucket{}}
	base := time.Unix(1_700_000_000, 0)

	if !rl.allow("10.0.0.1", base) || !rl.allow("10.0.0.1", base) {
		t.Fatal("burst requests denied")
	}
	if rl.allow("10.0.0.1", base) {
		t.Error("request beyond burst allowed")
	}
	// Other clients have their own bucket.
	if !rl.allow("10.0.0.2", base) {
		t.Error("fresh client denied")
	}
	// One second refills one token.
	if !rl.allow("10.0.0.1", base.Add(time.Second)) {
		t.Error("request after refill denied")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := clientKey(r); got != "192.0.2.1" {
		t.Errorf("clientKey = %q, want 192.0.2.1", got)
	}
}
