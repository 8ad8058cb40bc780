package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastNotifier(opts ...Option) *Notifier {
	base := []Option{WithBaseDelay(time.Millisecond)}
	return New(append(base, opts...)...)
}

func TestDeliver_SucceedsFirstAttempt(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := map[string]any{"task_id": "calc-ab12f", "round": 1}
	out := fastNotifier().Deliver(context.Background(), srv.URL, payload)

	if !out.Success || out.Attempts != 1 || out.StatusCode != http.StatusOK {
		t.Fatalf("outcome: %+v", out)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type: got %q", gotContentType)
	}
	var decoded map[string]any
	if err := json.Unmarshal(gotBody, &decoded); err != nil || decoded["task_id"] != "calc-ab12f" {
		t.Errorf("body: %s err %v", gotBody, err)
	}
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := fastNotifier().Deliver(context.Background(), srv.URL, map[string]string{"k": "v"})

	if !out.Success || out.Attempts != 3 {
		t.Fatalf("want success on attempt 3, got %+v", out)
	}
	if len(out.Trail) != 3 {
		t.Fatalf("trail: got %d attempts", len(out.Trail))
	}
	if out.Trail[0].StatusCode != 500 || out.Trail[2].StatusCode != 200 {
		t.Errorf("trail statuses: %+v", out.Trail)
	}
	if out.Err != nil {
		t.Errorf("err should clear on success: %v", out.Err)
	}
}

func TestDeliver_ExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out := fastNotifier(WithMaxAttempts(4)).Deliver(context.Background(), srv.URL, "x")

	if out.Success {
		t.Fatal("delivery should fail")
	}
	if out.Attempts != 4 || calls.Load() != 4 {
		t.Fatalf("attempts: outcome %d, server saw %d", out.Attempts, calls.Load())
	}
	if len(out.Trail) != 4 || out.Err == nil {
		t.Fatalf("trail %d err %v", len(out.Trail), out.Err)
	}
}

func TestDeliver_ConnectionErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // nothing listening

	out := fastNotifier(WithMaxAttempts(2)).Deliver(context.Background(), srv.URL, "x")

	if out.Success || out.Attempts != 2 || out.Err == nil {
		t.Fatalf("outcome: %+v", out)
	}
	for _, a := range out.Trail {
		if a.Error == "" {
			t.Errorf("trail attempt missing error: %+v", a)
		}
	}
}

func TestDeliver_CancelAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := New(WithBaseDelay(time.Hour)) // backoff would block forever

	done := make(chan Outcome, 1)
	go func() { done <- n.Deliver(ctx, srv.URL, "x") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		if out.Success {
			t.Fatal("canceled delivery should not succeed")
		}
		if out.Err != context.Canceled {
			t.Errorf("err: got %v", out.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not abort on cancel")
	}
}
