package domain

import "time"

// TranslationJob is the unit of work handed from admission to the
// translation workers. It carries no reference back into the queue.
type TranslationJob struct {
	SourceActivityID    string
	SourceObjectID      string
	SourceActorID       string
	SourceActorHandle   string
	SourceInboxURL      string
	RawText             string
	ConversationContext string // empty when the note carried none
	EnqueuedAt          time.Time
}

// ReplyTarget is the id the reply answers: the mentioned note when known,
// otherwise the activity that carried it.
func (j TranslationJob) ReplyTarget() string {
	if j.SourceObjectID != "" {
		return j.SourceObjectID
	}
	return j.SourceActivityID
}

// JobState is a step of the per-job state machine
type JobState int

const (
	StateReceived JobState = iota
	StateExtracted
	StateDetected
	StateTranslated
	StateBuilt
	StateDelivered
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateExtracted:
		return "Extracted"
	case StateDetected:
		return "Detected"
	case StateTranslated:
		return "Translated"
	case StateBuilt:
		return "Built"
	case StateDelivered:
		return "Delivered"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureKind qualifies a job that ended in StateFailed
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureEmptyContent
	FailureSameLanguage
	FailureTranslationUnavailable
	FailurePermanentDelivery
	FailureTransientDelivery
	FailureCancelled
	FailureInternal

	failureKindCount
)

// FailureKinds lists every failure kind, FailureNone excluded.
func FailureKinds() []FailureKind {
	kinds := make([]FailureKind, 0, failureKindCount-1)
	for k := FailureEmptyContent; k < failureKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "None"
	case FailureEmptyContent:
		return "EmptyContent"
	case FailureSameLanguage:
		return "NoOpSameLanguage"
	case FailureTranslationUnavailable:
		return "TranslationUnavailable"
	case FailurePermanentDelivery:
		return "PermanentDeliveryFailure"
	case FailureTransientDelivery:
		return "TransientDeliveryFailure"
	case FailureCancelled:
		return "Cancelled"
	case FailureInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}
