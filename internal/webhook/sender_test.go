package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
)

func TestSenderDeliversSignedWebhook(t *testing.T) {
	fake := clock.NewFake(testNow)
	auth := NewAuthenticator(fake, 0)
	body := []byte(`{"task_id":"t1","status":"COMPLETED","generated":["x.png"]}`)

	var verified atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		res := auth.Authenticate(
			r.Header.Get("webhook-id"),
			r.Header.Get("webhook-timestamp"),
			r.Header.Get("webhook-signature"),
			raw, testSecret,
		)
		verified.Store(res.Valid)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(time.Second, 0, time.Millisecond, fake, zaptest.NewLogger(t))
	if err := sender.Deliver(context.Background(), srv.URL, body, testSecret); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if !verified.Load() {
		t.Error("Expected the receiver to authenticate the delivery")
	}
}

func TestSenderRetriesOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(time.Second, 3, time.Millisecond, nil, zaptest.NewLogger(t))
	if err := sender.Deliver(context.Background(), srv.URL, []byte(`{}`), ""); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestSenderGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewSender(time.Second, 1, time.Millisecond, nil, zaptest.NewLogger(t))
	if err := sender.Deliver(context.Background(), srv.URL, []byte(`{}`), ""); err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestSenderBackoffFollowsClock(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fake := clock.NewFake(testNow)
	sender := NewSender(time.Second, 1, time.Minute, fake, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.Deliver(context.Background(), srv.URL, []byte(`{}`), "")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the retry backoff")
		}
		time.Sleep(time.Millisecond)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("Expected 1 attempt before the backoff elapsed, got %d", got)
	}

	fake.Advance(time.Minute)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Deliver returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver did not return after the backoff elapsed")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	if fake.Waiters() != 0 {
		t.Errorf("Expected the backoff timer released, %d still live", fake.Waiters())
	}
}

func TestSenderBackoffHonoursCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fake := clock.NewFake(testNow)
	sender := NewSender(time.Second, 2, time.Minute, fake, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- sender.Deliver(ctx, srv.URL, []byte(`{}`), "")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the retry backoff")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver did not return after cancel")
	}
}
