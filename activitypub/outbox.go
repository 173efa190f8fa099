package activitypub

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/deemkeen/translatebot/domain"
	"github.com/google/uuid"
)

// Outbox builds the activities the bot sends. It owns the bot's URLs.
type Outbox struct {
	Domain   string
	Username string

	now   func() time.Time
	newID func() string
}

func NewOutbox(domainName, username string) *Outbox {
	return &Outbox{
		Domain:   domainName,
		Username: username,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// ActorID is the bot's actor URI: https://domain/users/name
func (o *Outbox) ActorID() string {
	return fmt.Sprintf("https://%s/users/%s", o.Domain, o.Username)
}

func (o *Outbox) KeyID() string {
	return o.ActorID() + "#main-key"
}

// ProfileURL is the human-facing URL Mastodon puts in mention links.
func (o *Outbox) ProfileURL() string {
	return fmt.Sprintf("https://%s/@%s", o.Domain, o.Username)
}

func (o *Outbox) InboxURL() string       { return o.ActorID() + "/inbox" }
func (o *Outbox) OutboxURL() string      { return o.ActorID() + "/outbox" }
func (o *Outbox) FollowersURL() string   { return o.ActorID() + "/followers" }
func (o *Outbox) SharedInboxURL() string { return fmt.Sprintf("https://%s/inbox", o.Domain) }

// BuildReply encodes reply as a Create(Note) addressed to the author.
func (o *Outbox) BuildReply(reply domain.ReplyActivity) ([]byte, error) {
	if reply.ToActorID == "" {
		return nil, fmt.Errorf("reply has no recipient")
	}

	actorURI := o.ActorID()
	noteURI := fmt.Sprintf("%s/notes/%s", actorURI, o.newID())
	createID := fmt.Sprintf("%s/creates/%s", actorURI, o.newID())
	published := o.now().UTC().Format(time.RFC3339)

	to := []string{reply.ToActorID}
	cc := []string{PublicAddress}

	note := map[string]interface{}{
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      replyHTML(reply),
		"published":    published,
		"to":           to,
		"cc":           cc,
		"tag": []map[string]string{
			{
				"type": "Mention",
				"href": reply.ToActorID,
				"name": reply.ToActorHandle,
			},
		},
	}
	if reply.InReplyTo != "" {
		note["inReplyTo"] = reply.InReplyTo
	}
	if reply.ConversationContext != "" {
		note["conversation"] = reply.ConversationContext
		note["context"] = reply.ConversationContext
	}

	create := map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        createID,
		"type":      "Create",
		"actor":     actorURI,
		"published": published,
		"to":        to,
		"cc":        cc,
		"object":    note,
	}

	b, err := json.Marshal(create)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reply: %w", err)
	}
	return b, nil
}

// replyHTML renders the reply body with an h-card mention of the author
func replyHTML(reply domain.ReplyActivity) string {
	name := strings.TrimPrefix(reply.ToActorHandle, "@")
	if i := strings.Index(name, "@"); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = reply.ToActorID
	}

	lines := strings.Split(html.EscapeString(reply.Content), "\n")
	return fmt.Sprintf(
		`<p><span class="h-card"><a href="%s" class="u-url mention">@<span>%s</span></a></span> %s</p>`,
		html.EscapeString(reply.ToActorID),
		html.EscapeString(name),
		strings.Join(lines, "<br>"),
	)
}

// BuildAccept encodes the Accept for a follower's Follow.
func (o *Outbox) BuildAccept(follower domain.Follower) ([]byte, error) {
	actorURI := o.ActorID()
	accept := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       fmt.Sprintf("https://%s/activities/%s", o.Domain, o.newID()),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     follower.FollowActivityID,
			"type":   "Follow",
			"actor":  follower.ActorID,
			"object": actorURI,
		},
	}

	b, err := json.Marshal(accept)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accept: %w", err)
	}
	return b, nil
}
