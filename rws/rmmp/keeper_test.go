package rmmp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequest_GrantedAfterPendingPolls(t *testing.T) {
	var polls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.URL.Path != "/users/rmmp" {
				t.Errorf("POST path = %s, want /users/rmmp", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if r.URL.Path != "/users/rmmp/poll" {
				t.Errorf("GET path = %s, want /users/rmmp/poll", r.URL.Path)
			}
			n := polls.Add(1)
			status := "PENDING"
			if n >= 3 {
				status = "GRANTED"
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<html><body><span class="status">` + status + `</span></body></html>`))
		}
	}))
	defer server.Close()

	keeper := NewKeeper(server.URL, http.DefaultTransport, 30*time.Second, nil)

	err := keeper.Request(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if keeper.State() != StateGrantedPrimary {
		t.Errorf("state = %v, want %v", keeper.State(), StateGrantedPrimary)
	}
	if polls.Load() < 3 {
		t.Errorf("polls = %d, want at least 3 (PENDING, PENDING, GRANTED)", polls.Load())
	}
}

func TestRequest_DeniedReturnsPrivilegeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<html><body><span class="status">DENIED</span></body></html>`))
		}
	}))
	defer server.Close()

	keeper := NewKeeper(server.URL, http.DefaultTransport, 30*time.Second, nil)

	err := keeper.Request(context.Background(), 2*time.Second)
	if err == nil {
		t.Fatal("expected an error for a denied grant")
	}
}

func TestPoll_RolloverClonesCookiesWithoutReRequesting(t *testing.T) {
	var postCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users/rmmp":
			postCount.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "sessiontoken", Value: "abc"})
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/users/rmmp/poll":
			status := "PENDING"
			if c, err := r.Cookie("sessiontoken"); err == nil && c.Value == "abc" {
				status = "GRANTED"
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<html><body><span class="status">` + status + `</span></body></html>`))
		case r.Method == http.MethodPost && r.URL.Path == "/users/rmmp/cancel":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	rolloverInterval := 20 * time.Millisecond
	keeper := NewKeeper(server.URL, http.DefaultTransport, rolloverInterval, nil)

	if err := keeper.Request(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if postCount.Load() != 1 {
		t.Fatalf("postCount after Request = %d, want 1", postCount.Load())
	}

	time.Sleep(rolloverInterval * 2)

	ok, err := keeper.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !ok {
		t.Error("Poll returned ok=false after rollover, want true (grant carried over via cloned cookie)")
	}
	if postCount.Load() != 1 {
		t.Errorf("postCount after rollover = %d, want 1 (rollover must not re-POST /users/rmmp)", postCount.Load())
	}
	if keeper.State() != StateGrantedPrimary {
		t.Errorf("state = %v, want %v", keeper.State(), StateGrantedPrimary)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:                    "idle",
		StateRequesting:              "requesting",
		StateGrantedPrimary:          "granted(primary)",
		StateGrantedPrimaryAndShadow: "granted(primary,shadow)",
		StateGrantedShadow:           "granted(shadow)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
