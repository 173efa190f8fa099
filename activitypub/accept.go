package activitypub

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/domain"
	"github.com/deemkeen/translatebot/retry"
)

// Sender delivers an encoded activity to an inbox.
type Sender interface {
	Deliver(ctx context.Context, payload []byte, inbox string) error
}

// Acceptor answers follows with an Accept, off the request path.
type Acceptor struct {
	ctx    context.Context
	outbox *Outbox
	sender Sender
	policy retry.Policy
	log    *log.Logger
	wg     sync.WaitGroup
}

// NewAcceptor creates an acceptor whose deliveries stop when ctx ends.
func NewAcceptor(ctx context.Context, outbox *Outbox, sender Sender, policy retry.Policy, logger *log.Logger) *Acceptor {
	if logger == nil {
		logger = log.Default()
	}
	return &Acceptor{
		ctx:    ctx,
		outbox: outbox,
		sender: sender,
		policy: policy,
		log:    logger.WithPrefix("Accept"),
	}
}

// Dispatch sends the Accept for follower in the background.
func (a *Acceptor) Dispatch(follower domain.Follower) {
	payload, err := a.outbox.BuildAccept(follower)
	if err != nil {
		a.log.Error("Failed to build Accept", "actor", follower.ActorID, "err", err)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		attempts, err := a.policy.Do(a.ctx, IsRetryableDelivery, func(ctx context.Context, attempt int) error {
			return a.sender.Deliver(ctx, payload, follower.InboxURL)
		})
		if err != nil {
			a.log.Warn("Giving up on Accept", "inbox", follower.InboxURL, "attempts", attempts, "err", err)
			return
		}
		a.log.Info("Accepted follow", "actor", follower.ActorID)
	}()
}

// Wait blocks until every dispatched Accept finished.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}
