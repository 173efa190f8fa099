package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/translatebot/domain"
)

const UserAgent = "translatebot/1.0 ActivityPub"

// DeliveryError describes a failed POST to a remote inbox.
type DeliveryError struct {
	Inbox      string
	StatusCode int // 0 for network errors
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to %s: remote server returned status: %d", e.Inbox, e.StatusCode)
	}
	return fmt.Sprintf("delivery to %s: %v", e.Inbox, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same delivery is pointless.
// Network errors, 408, 429 and 5xx are transient, every other 4xx is not.
func (e *DeliveryError) Permanent() bool {
	switch {
	case e.StatusCode == 0:
		return false
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return false
	case e.StatusCode >= 500:
		return false
	case e.StatusCode >= 400:
		return true
	}
	return false
}

func (e *DeliveryError) Is(target error) bool {
	switch target {
	case domain.ErrPermanent:
		return e.Permanent()
	case domain.ErrTransient:
		return !e.Permanent()
	}
	return false
}

// IsRetryableDelivery is the retry predicate for deliveries.
func IsRetryableDelivery(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, domain.ErrPermanent)
}

// Deliverer POSTs signed activities to remote inboxes.
type Deliverer struct {
	client     *http.Client
	privateKey *rsa.PrivateKey
	keyID      string
}

func NewDeliverer(client *http.Client, privateKey *rsa.PrivateKey, keyID string) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Deliverer{client: client, privateKey: privateKey, keyID: keyID}
}

// Deliver sends payload to inbox. Any non-2xx answer is a *DeliveryError.
func (d *Deliverer) Deliver(ctx context.Context, payload []byte, inbox string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", domain.ErrPermanent, err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", UserAgent)

	if err := SignRequest(req, d.privateKey, d.keyID, payload); err != nil {
		return fmt.Errorf("%w: failed to sign request: %v", domain.ErrPermanent, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		return &DeliveryError{Inbox: inbox, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Inbox: inbox, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}
