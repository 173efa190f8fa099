package domain

import (
	"fmt"
	"strings"
)

// ReplyActivity is the translated answer to a mention. It is built once
// per job and not modified afterwards.
type ReplyActivity struct {
	InReplyTo              string
	ToActorID              string
	ToActorHandle          string
	Content                string
	DetectedSourceLanguage string
	TargetLanguage         string
	ConversationContext    string
}

// NewReply builds the reply for a job from the gateway results.
func NewReply(job TranslationJob, detected, target, translated string) ReplyActivity {
	return ReplyActivity{
		InReplyTo:              job.ReplyTarget(),
		ToActorID:              job.SourceActorID,
		ToActorHandle:          job.SourceActorHandle,
		Content:                FormatReplyContent(detected, target, translated),
		DetectedSourceLanguage: detected,
		TargetLanguage:         target,
		ConversationContext:    job.ConversationContext,
	}
}

// FormatReplyContent renders "[SRC → TGT] text" with upper-cased codes.
func FormatReplyContent(source, target, translated string) string {
	return fmt.Sprintf("[%s → %s] %s",
		strings.ToUpper(strings.TrimSpace(source)),
		strings.ToUpper(strings.TrimSpace(target)),
		strings.TrimSpace(translated))
}
