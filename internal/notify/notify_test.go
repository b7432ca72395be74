package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifier_StartedPostsMessage(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	n.Started(context.Background(), "population", "2026-01-01")

	select {
	case p := <-received:
		if p.Text == "" {
			t.Error("expected non-empty notification text")
		}
	default:
		t.Fatal("expected webhook to receive a request")
	}
}

func TestNotifier_CompletedDistinguishesSuccessAndFailure(t *testing.T) {
	received := make(chan payload, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	n.Completed(context.Background(), "population", "v1", nil)
	n.Completed(context.Background(), "population", "v1", errors.New("boom"))

	ok := <-received
	fail := <-received
	if ok.Text == fail.Text {
		t.Error("expected success and failure notifications to differ")
	}
}

func TestNotifier_EmptyWebhookIsNoop(t *testing.T) {
	n := New("", nil)
	// Should not panic or block even though no server is listening.
	n.Started(context.Background(), "population", "v1")
	n.Completed(context.Background(), "population", "v1", nil)
}
