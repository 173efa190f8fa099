package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/activitypub"
	"github.com/deemkeen/translatebot/domain"
	"github.com/deemkeen/translatebot/retry"
	"github.com/deemkeen/translatebot/translate"
	"golang.org/x/text/language"
)

// Source hands out queued jobs.
type Source interface {
	Pop(ctx context.Context) (domain.TranslationJob, error)
}

// ReplyEncoder turns a reply into the activity document to deliver.
type ReplyEncoder interface {
	BuildReply(reply domain.ReplyActivity) ([]byte, error)
}

// Deliverer POSTs a document to an inbox.
type Deliverer interface {
	Deliver(ctx context.Context, payload []byte, inbox string) error
}

// FollowerStore is used to forget followers whose inbox is gone for good.
type FollowerStore interface {
	ReadFollower(ctx context.Context, actorID string) (*domain.Follower, error)
	RemoveFollower(ctx context.Context, actorID string) error
}

type Deps struct {
	Gateway   translate.Gateway
	Encoder   ReplyEncoder
	Deliverer Deliverer
	Followers FollowerStore
	// Extract strips markup from note content. Defaults to activitypub.ExtractText.
	Extract func(html string) string
}

type Config struct {
	TargetLanguage   string
	CallTimeout      time.Duration // bound for each gateway or delivery call
	TranslationRetry retry.Policy
	DeliveryRetry    retry.Policy
}

// Result is the outcome of one job.
type Result struct {
	State             domain.JobState
	Failure           domain.FailureKind
	Err               error
	Reply             *domain.ReplyActivity
	DetectAttempts    int
	TranslateAttempts int
	DeliveryAttempts  int
}

// Worker runs jobs through extract, detect, translate, build and deliver.
type Worker struct {
	deps  Deps
	conf  Config
	log   *log.Logger
	stats *counters
}

func New(deps Deps, conf Config, logger *log.Logger) *Worker {
	return newWorker(deps, conf, logger, newCounters())
}

func newWorker(deps Deps, conf Config, logger *log.Logger, c *counters) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	if deps.Extract == nil {
		deps.Extract = activitypub.ExtractText
	}
	return &Worker{deps: deps, conf: conf, log: logger.WithPrefix("Worker"), stats: c}
}

func (w *Worker) Stats() Stats {
	return w.stats.snapshot()
}

// Run processes jobs until the source is closed and drained or ctx ends.
func (w *Worker) Run(ctx context.Context, src Source) {
	for {
		job, err := src.Pop(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Debug("Source stopped", "err", err)
			}
			return
		}
		w.Process(ctx, job)
	}
}

// retryable accepts anything that is neither cancellation nor classified
// as permanent.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !domain.IsPermanent(err)
}

// Process runs a single job to completion. Panics are contained and
// reported as an internal failure.
func (w *Worker) Process(ctx context.Context, job domain.TranslationJob) (res Result) {
	res.State = domain.StateReceived
	logger := w.log.With("id", job.SourceActivityID, "from", job.SourceActorHandle)

	w.stats.busy.Add(1)
	defer func() {
		w.stats.busy.Add(-1)
		if r := recover(); r != nil {
			logger.Error("Panic while processing job", "panic", r, "stack", string(debug.Stack()))
			res.State = domain.StateFailed
			res.Failure = domain.FailureInternal
			res.Err = fmt.Errorf("panic: %v", r)
		}
		w.stats.record(res)
	}()

	fail := func(kind domain.FailureKind, err error) Result {
		if kind != domain.FailureCancelled && ctx.Err() != nil {
			kind = domain.FailureCancelled
		}
		res.State = domain.StateFailed
		res.Failure = kind
		res.Err = err
		switch kind {
		case domain.FailureEmptyContent, domain.FailureSameLanguage, domain.FailureCancelled:
			logger.Debug("Job finished without reply", "reason", kind, "err", err)
		default:
			logger.Warn("Job failed", "reason", kind, "err", err)
		}
		return res
	}

	text := w.deps.Extract(job.RawText)
	res.State = domain.StateExtracted
	if text == "" {
		return fail(domain.FailureEmptyContent, nil)
	}

	var detected string
	attempts, err := w.conf.TranslationRetry.Do(ctx, retryable, func(ctx context.Context, attempt int) error {
		callCtx, cancel := w.callContext(ctx)
		defer cancel()
		lang, err := w.deps.Gateway.DetectLanguage(callCtx, text)
		if err != nil {
			logger.Debug("Language detection failed", "attempt", attempt, "err", err)
			return err
		}
		detected = lang
		return nil
	})
	res.DetectAttempts = attempts
	if err != nil {
		return fail(domain.FailureTranslationUnavailable, fmt.Errorf("detect: %w", err))
	}
	res.State = domain.StateDetected

	target := w.conf.TargetLanguage
	if SameLanguage(detected, target) {
		return fail(domain.FailureSameLanguage, nil)
	}

	var translated string
	attempts, err = w.conf.TranslationRetry.Do(ctx, retryable, func(ctx context.Context, attempt int) error {
		callCtx, cancel := w.callContext(ctx)
		defer cancel()
		out, err := w.deps.Gateway.Translate(callCtx, text, target)
		if err != nil {
			logger.Debug("Translation failed", "attempt", attempt, "err", err)
			return err
		}
		translated = out
		return nil
	})
	res.TranslateAttempts = attempts
	if err != nil {
		return fail(domain.FailureTranslationUnavailable, fmt.Errorf("translate: %w", err))
	}
	if strings.TrimSpace(translated) == "" {
		return fail(domain.FailureTranslationUnavailable, errors.New("translate: empty translation"))
	}
	res.State = domain.StateTranslated

	reply := domain.NewReply(job, detected, target, translated)
	payload, err := w.deps.Encoder.BuildReply(reply)
	if err != nil {
		return fail(domain.FailureInternal, fmt.Errorf("build reply: %w", err))
	}
	res.Reply = &reply
	res.State = domain.StateBuilt

	if job.SourceInboxURL == "" {
		return fail(domain.FailurePermanentDelivery, errors.New("author has no inbox"))
	}

	attempts, err = w.conf.DeliveryRetry.Do(ctx, retryable, func(ctx context.Context, attempt int) error {
		callCtx, cancel := w.callContext(ctx)
		defer cancel()
		err := w.deps.Deliverer.Deliver(callCtx, payload, job.SourceInboxURL)
		if err != nil {
			logger.Debug("Delivery failed", "attempt", attempt, "err", err)
		}
		return err
	})
	res.DeliveryAttempts = attempts
	if err != nil {
		if domain.IsPermanent(err) {
			w.forgetFollower(ctx, job.SourceActorID, logger)
			return fail(domain.FailurePermanentDelivery, err)
		}
		return fail(domain.FailureTransientDelivery, err)
	}

	res.State = domain.StateDelivered
	logger.Info("Translation delivered", "source", detected, "target", target, "inbox", job.SourceInboxURL)
	return res
}

func (w *Worker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.conf.CallTimeout > 0 {
		return context.WithTimeout(ctx, w.conf.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// forgetFollower drops the author's follower record after their inbox
// rejected a delivery for good.
func (w *Worker) forgetFollower(ctx context.Context, actorID string, logger *log.Logger) {
	if w.deps.Followers == nil || actorID == "" {
		return
	}
	f, err := w.deps.Followers.ReadFollower(ctx, actorID)
	if err != nil {
		logger.Warn("Failed to read follower", "actor", actorID, "err", err)
		return
	}
	if f == nil {
		return
	}
	if err := w.deps.Followers.RemoveFollower(ctx, actorID); err != nil {
		logger.Warn("Failed to remove follower", "actor", actorID, "err", err)
		return
	}
	logger.Info("Removed follower after permanent delivery failure", "actor", actorID)
}

// SameLanguage compares two language codes on their base subtag, so
// "pt-BR" and "pt" are the same language.
func SameLanguage(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA == nil && errB == nil {
		baseA, _ := ta.Base()
		baseB, _ := tb.Base()
		return baseA == baseB
	}
	primary := func(s string) string {
		s = strings.ToLower(s)
		if i := strings.IndexAny(s, "-_"); i >= 0 {
			s = s[:i]
		}
		return s
	}
	return primary(a) == primary(b)
}
