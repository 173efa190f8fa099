package activitypub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deemkeen/translatebot/domain"
)

func TestDeliverSignsAndPosts(t *testing.T) {
	privateKey, pubPem := mustKeyPair(t)
	payload := []byte(`{"type":"Create"}`)

	var gotBody []byte
	var verifyErr error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "application/activity+json" {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Digest") != calculateDigest(payload) {
			t.Errorf("Unexpected digest %s", r.Header.Get("Digest"))
		}
		_, verifyErr = VerifyRequest(r, pubPem)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), privateKey, "https://example.com/users/translate#main-key")
	if err := d.Deliver(context.Background(), payload, server.URL+"/inbox"); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if string(gotBody) != string(payload) {
		t.Errorf("Expected body %s, got %s", payload, gotBody)
	}
	if verifyErr != nil {
		t.Errorf("Receiver could not verify signature: %v", verifyErr)
	}
}

func TestDeliverClassifiesStatus(t *testing.T) {
	privateKey, _ := mustKeyPair(t)

	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusAccepted, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusUnauthorized, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusGone, true, true},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusServiceUnavailable, true, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d := NewDeliverer(server.Client(), privateKey, "https://example.com/users/translate#main-key")
			err := d.Deliver(context.Background(), []byte(`{}`), server.URL+"/inbox")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}

			var derr *DeliveryError
			if !errors.As(err, &derr) || derr.StatusCode != tt.status {
				t.Errorf("Expected DeliveryError with status %d, got %v", tt.status, err)
			}
			if errors.Is(err, domain.ErrPermanent) != tt.permanent {
				t.Errorf("permanent = %v, want %v", !tt.permanent, tt.permanent)
			}
			if IsRetryableDelivery(err) == tt.permanent {
				t.Errorf("IsRetryableDelivery wrong for %d", tt.status)
			}
		})
	}
}

func TestDeliverNetworkErrorIsTransient(t *testing.T) {
	privateKey, _ := mustKeyPair(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	d := NewDeliverer(nil, privateKey, "https://example.com/users/translate#main-key")
	err := d.Deliver(context.Background(), []byte(`{}`), url+"/inbox")
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestDeliverInvalidInboxIsPermanent(t *testing.T) {
	privateKey, _ := mustKeyPair(t)
	d := NewDeliverer(nil, privateKey, "k")
	err := d.Deliver(context.Background(), []byte(`{}`), "://bad url")
	if !errors.Is(err, domain.ErrPermanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}
