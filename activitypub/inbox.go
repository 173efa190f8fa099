package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/domain"
)

// FollowerStore is the follower bookkeeping admission needs.
type FollowerStore interface {
	UpsertFollower(ctx context.Context, f *domain.Follower) error
	RemoveFollower(ctx context.Context, actorID string) error
	ReadFollower(ctx context.Context, actorID string) (*domain.Follower, error)
}

// JobQueue accepts translation jobs without blocking for long.
type JobQueue interface {
	Push(job domain.TranslationJob) error
}

// SeenSet filters activities that were already admitted.
type SeenSet interface {
	MarkSeen(id string) bool
	Forget(id string)
}

// Decision is what the inbox endpoint tells the remote server.
type Decision int

const (
	// Accepted covers everything that is not the sender's fault, including
	// ignored and dropped activities.
	Accepted Decision = iota
	// Rejected means the activity was malformed or not sent by its actor.
	Rejected
	// Failed means local bookkeeping failed and the sender should retry.
	Failed
)

func (d Decision) String() string {
	switch d {
	case Rejected:
		return "Rejected"
	case Failed:
		return "Failed"
	default:
		return "Accepted"
	}
}

// Outcome says what admission did with an accepted activity.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeFollowed
	OutcomeUnfollowed
	OutcomeEnqueued
	OutcomeDuplicate
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFollowed:
		return "Followed"
	case OutcomeUnfollowed:
		return "Unfollowed"
	case OutcomeEnqueued:
		return "Enqueued"
	case OutcomeDuplicate:
		return "Duplicate"
	case OutcomeDropped:
		return "Dropped"
	default:
		return "Ignored"
	}
}

// Result of admitting one activity. Follower is set for OutcomeFollowed so
// the caller can send the Accept.
type Result struct {
	Decision Decision
	Outcome  Outcome
	Reason   error
	Follower *domain.Follower
}

type AdmissionConfig struct {
	// BotID is the bot's actor id, e.g. https://example.com/users/translate
	BotID string
	// BotURLs are other URLs that identify the bot in mentions (profile page).
	BotURLs []string
}

// Admission validates and classifies inbound activities. It never performs
// network I/O: the only waits are the follower store and queue admission.
type Admission struct {
	conf      AdmissionConfig
	followers FollowerStore
	jobs      JobQueue
	seen      SeenSet
	log       *log.Logger
	now       func() time.Time
}

func NewAdmission(conf AdmissionConfig, followers FollowerStore, jobs JobQueue, seen SeenSet, logger *log.Logger) *Admission {
	if logger == nil {
		logger = log.Default()
	}
	return &Admission{
		conf:      conf,
		followers: followers,
		jobs:      jobs,
		seen:      seen,
		log:       logger.WithPrefix("Inbox"),
		now:       time.Now,
	}
}

func accepted(o Outcome) Result { return Result{Decision: Accepted, Outcome: o} }

func rejected(err error) Result { return Result{Decision: Rejected, Reason: err} }

// Handle admits one activity sent by an already verified actor.
func (a *Admission) Handle(ctx context.Context, activity domain.Activity, actor domain.RemoteActor) Result {
	if activity.ActorID != actor.ID {
		a.log.Warn("Actor mismatch", "activity", activity.ID, "claimed", activity.ActorID, "signer", actor.ID)
		return rejected(fmt.Errorf("%w: activity actor %s signed by %s", domain.ErrActorMismatch, activity.ActorID, actor.ID))
	}

	a.log.Debug("Received", "type", activity.Type, "id", activity.ID, "actor", actor.ID)

	switch activity.Kind {
	case domain.KindFollow:
		return a.handleFollow(ctx, activity, actor)
	case domain.KindUndo:
		return a.handleUndo(ctx, activity, actor)
	case domain.KindCreate:
		return a.handleCreate(activity, actor)
	default:
		a.log.Debug("Unsupported activity type", "type", activity.Type)
		return accepted(OutcomeIgnored)
	}
}

func (a *Admission) handleFollow(ctx context.Context, activity domain.Activity, actor domain.RemoteActor) Result {
	if activity.ObjectID != a.conf.BotID {
		a.log.Debug("Follow for someone else", "object", activity.ObjectID)
		return accepted(OutcomeIgnored)
	}
	inbox := actor.InboxURL
	if inbox == "" {
		inbox = actor.SharedInboxURL
	}
	if inbox == "" {
		return rejected(fmt.Errorf("%w: actor %s has no inbox", domain.ErrMalformedActivity, actor.ID))
	}

	follower := &domain.Follower{
		ActorID:          actor.ID,
		InboxURL:         inbox,
		SharedInboxURL:   actor.SharedInboxURL,
		FollowActivityID: activity.ID,
		FollowedAt:       a.now(),
	}
	if err := a.followers.UpsertFollower(ctx, follower); err != nil {
		a.log.Error("Failed to store follower", "actor", actor.ID, "err", err)
		return Result{Decision: Failed, Reason: fmt.Errorf("failed to store follower: %w", err)}
	}

	a.log.Info("New follower", "handle", actor.Handle())
	return Result{Decision: Accepted, Outcome: OutcomeFollowed, Follower: follower}
}

func (a *Admission) handleUndo(ctx context.Context, activity domain.Activity, actor domain.RemoteActor) Result {
	if obj, ok := parseEmbedded(activity.Object); ok {
		if obj.Type != "Follow" {
			return accepted(OutcomeIgnored)
		}
		if inner := idOf(obj.Actor); inner != "" && inner != actor.ID {
			return rejected(fmt.Errorf("%w: undo of a follow by %s", domain.ErrActorMismatch, inner))
		}
		if target := idOf(obj.Object); target != "" && target != a.conf.BotID {
			return accepted(OutcomeIgnored)
		}
		return a.removeFollower(ctx, actor)
	}

	// A bare id only undoes the follow it names.
	existing, err := a.followers.ReadFollower(ctx, actor.ID)
	if err != nil {
		a.log.Error("Failed to read follower", "actor", actor.ID, "err", err)
		return Result{Decision: Failed, Reason: fmt.Errorf("failed to read follower: %w", err)}
	}
	if existing == nil || existing.FollowActivityID == "" || existing.FollowActivityID != activity.ObjectID {
		return accepted(OutcomeIgnored)
	}
	return a.removeFollower(ctx, actor)
}

func (a *Admission) removeFollower(ctx context.Context, actor domain.RemoteActor) Result {
	if err := a.followers.RemoveFollower(ctx, actor.ID); err != nil {
		a.log.Error("Failed to remove follower", "actor", actor.ID, "err", err)
		return Result{Decision: Failed, Reason: fmt.Errorf("failed to remove follower: %w", err)}
	}
	a.log.Info("Removed follower", "handle", actor.Handle())
	return accepted(OutcomeUnfollowed)
}

func (a *Admission) handleCreate(activity domain.Activity, actor domain.RemoteActor) Result {
	if actor.ID == a.conf.BotID {
		return accepted(OutcomeIgnored)
	}
	note, ok := parseNote(activity.Object)
	if !ok {
		return accepted(OutcomeIgnored)
	}
	if !a.mentionsBot(note) {
		return accepted(OutcomeIgnored)
	}

	inbox := actor.InboxURL
	if inbox == "" {
		inbox = actor.SharedInboxURL
	}

	key := activity.ID
	if key == "" {
		key = note.ID
	}
	if key != "" && !a.seen.MarkSeen(key) {
		a.log.Debug("Duplicate activity", "id", key)
		return Result{Decision: Accepted, Outcome: OutcomeDuplicate, Reason: domain.ErrDuplicateActivity}
	}

	job := domain.TranslationJob{
		SourceActivityID:    activity.ID,
		SourceObjectID:      note.ID,
		SourceActorID:       actor.ID,
		SourceActorHandle:   actor.Handle(),
		SourceInboxURL:      inbox,
		RawText:             note.HTML(),
		ConversationContext: note.ConversationID(),
		EnqueuedAt:          a.now(),
	}
	if err := a.jobs.Push(job); err != nil {
		if key != "" {
			a.seen.Forget(key)
		}
		a.log.Warn("Queue refused job", "id", key, "err", err)
		return Result{Decision: Accepted, Outcome: OutcomeDropped, Reason: err}
	}

	a.log.Info("Queued translation", "id", key, "from", job.SourceActorHandle)
	return accepted(OutcomeEnqueued)
}

// mentionsBot reports whether the note addresses the bot through a Mention
// tag, its to/cc audience, or a link in the content.
func (a *Admission) mentionsBot(note *Note) bool {
	ids := append([]string{a.conf.BotID}, a.conf.BotURLs...)
	isBot := func(s string) bool {
		for _, id := range ids {
			if id != "" && strings.EqualFold(strings.TrimRight(s, "/"), strings.TrimRight(id, "/")) {
				return true
			}
		}
		return false
	}

	for _, t := range note.Tag {
		if t.Type == "Mention" && isBot(t.Href) {
			return true
		}
	}
	for _, addr := range note.To {
		if isBot(addr) {
			return true
		}
	}
	for _, addr := range note.Cc {
		if isBot(addr) {
			return true
		}
	}
	for _, u := range linkedURLs(note.HTML()) {
		if isBot(u) {
			return true
		}
	}
	return false
}

// IsClientError reports whether a rejection is the sender's fault.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrMalformedActivity) || errors.Is(err, domain.ErrActorMismatch)
}
