package webhook

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

func TestDeliver_Signed(t *testing.T) {
	var gotSig string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		if gotSig != Sign("s3cret", body) {
			t.Errorf("signature %q does not match body", gotSig)
		}
		_ = json.Unmarshal(body, &gotEvent)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := &Event{Type: EventScanCompleted, JobID: "scan-1", Timestamp: 1}
	if err := Deliver(context.Background(), srv.URL, "s3cret", ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotEvent.Type != EventScanCompleted || gotEvent.JobID != "scan-1" {
		t.Errorf("event = %+v", gotEvent)
	}
}

func TestDeliver_Unsigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Error("unexpected signature without secret")
		}
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", &Event{Type: EventScanCompleted}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", &Event{}); err == nil {
		t.Fatal("want error for 500")
	}
}

func TestDeliverAsync_Retries(t *testing.T) {
	orig := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = orig }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	done := make(chan error, 1)
	DeliverAsync(srv.URL, "", &Event{Type: EventScanCompleted}, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("final error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}
