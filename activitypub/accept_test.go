package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/translatebot/domain"
	"github.com/deemkeen/translatebot/retry"
)

type recordingSender struct {
	mu       sync.Mutex
	calls    int
	inboxes  []string
	payloads [][]byte
	errs     []error // returned in order, then nil
}

func (s *recordingSender) Deliver(ctx context.Context, payload []byte, inbox string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.inboxes = append(s.inboxes, inbox)
	s.payloads = append(s.payloads, payload)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testFollower() domain.Follower {
	return domain.Follower{
		ActorID:          testAliceID,
		InboxURL:         testAliceID + "/inbox",
		FollowActivityID: "https://mastodon.social/follows/1",
	}
}

func TestAcceptorDispatch(t *testing.T) {
	sender := &recordingSender{}
	a := NewAcceptor(context.Background(), newTestOutbox(), sender, retry.Policy{MaxAttempts: 3, Sleep: noSleep}, quietLogger())

	a.Dispatch(testFollower())
	a.Wait()

	if sender.calls != 1 {
		t.Fatalf("Expected 1 delivery, got %d", sender.calls)
	}
	if sender.inboxes[0] != testAliceID+"/inbox" {
		t.Errorf("Unexpected inbox %s", sender.inboxes[0])
	}
	var accept struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(sender.payloads[0], &accept)
	if accept.Type != "Accept" {
		t.Errorf("Expected Accept, got %s", accept.Type)
	}
}

func TestAcceptorRetriesTransientFailures(t *testing.T) {
	sender := &recordingSender{errs: []error{
		&DeliveryError{Inbox: "x", StatusCode: 503},
		&DeliveryError{Inbox: "x", Err: errors.New("connection reset")},
	}}
	a := NewAcceptor(context.Background(), newTestOutbox(), sender, retry.Policy{MaxAttempts: 5, Sleep: noSleep}, quietLogger())

	a.Dispatch(testFollower())
	a.Wait()

	if sender.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", sender.calls)
	}
}

func TestAcceptorStopsOnPermanentFailure(t *testing.T) {
	sender := &recordingSender{errs: []error{&DeliveryError{Inbox: "x", StatusCode: 410}}}
	a := NewAcceptor(context.Background(), newTestOutbox(), sender, retry.Policy{MaxAttempts: 5, Sleep: noSleep}, quietLogger())

	a.Dispatch(testFollower())
	a.Wait()

	if sender.calls != 1 {
		t.Errorf("Expected 1 attempt, got %d", sender.calls)
	}
}
