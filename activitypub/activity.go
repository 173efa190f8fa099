package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/translatebot/domain"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	PublicAddress          = "https://www.w3.org/ns/activitystreams#Public"
)

// envelope is the shape every inbound activity shares. Actor and object may
// be a bare id or an embedded object.
type envelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  json.RawMessage `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// embedded is the minimal view of an embedded object or actor
type embedded struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  json.RawMessage `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// Note is the part of a Note or Article the bot reads.
type Note struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	AttributedTo json.RawMessage   `json:"attributedTo"`
	Content      string            `json:"content"`
	ContentMap   map[string]string `json:"contentMap"`
	InReplyTo    json.RawMessage   `json:"inReplyTo"`
	Conversation json.RawMessage   `json:"conversation"`
	Context      json.RawMessage   `json:"context"`
	To           stringList        `json:"to"`
	Cc           stringList        `json:"cc"`
	Tag          tagList           `json:"tag"`
}

type Tag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// stringList accepts a single string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(stringList, 0, len(items))
	for _, item := range items {
		if id := idOf(item); id != "" {
			out = append(out, id)
		}
	}
	*l = out
	return nil
}

// tagList accepts a single tag object or an array of them.
type tagList []Tag

func (l *tagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '{' {
		var t Tag
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*l = tagList{t}
		return nil
	}
	var tags []Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*l = tags
	return nil
}

// idOf returns the id of a JSON value that is either a string or an object
// with an "id" member.
func idOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &obj) == nil {
			return obj.ID
		}
	}
	return ""
}

func isEmbedded(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// ParseActivity decodes an inbound activity and classifies it. Any structural
// problem is reported as domain.ErrMalformedActivity.
func ParseActivity(body []byte) (domain.Activity, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Activity{}, fmt.Errorf("%w: invalid json: %v", domain.ErrMalformedActivity, err)
	}
	if env.Type == "" {
		return domain.Activity{}, fmt.Errorf("%w: missing type", domain.ErrMalformedActivity)
	}

	actorID := idOf(env.Actor)
	if actorID == "" {
		return domain.Activity{}, fmt.Errorf("%w: missing actor", domain.ErrMalformedActivity)
	}

	kind := domain.KindOf(env.Type)
	objectID := idOf(env.Object)
	if kind != domain.KindOther && objectID == "" {
		if !isEmbedded(env.Object) {
			return domain.Activity{}, fmt.Errorf("%w: missing object", domain.ErrMalformedActivity)
		}
	}

	return domain.Activity{
		Kind:     kind,
		Type:     env.Type,
		ID:       env.ID,
		ActorID:  actorID,
		ObjectID: objectID,
		Object:   env.Object,
		Payload:  json.RawMessage(body),
	}, nil
}

// parseEmbedded decodes an embedded object. It returns false when raw is a
// bare id or not an object at all.
func parseEmbedded(raw json.RawMessage) (embedded, bool) {
	if !isEmbedded(raw) {
		return embedded{}, false
	}
	var obj embedded
	if err := json.Unmarshal(raw, &obj); err != nil {
		return embedded{}, false
	}
	return obj, true
}

// parseNote decodes an embedded Note or Article. Other object types and bare
// ids yield false.
func parseNote(raw json.RawMessage) (*Note, bool) {
	if !isEmbedded(raw) {
		return nil, false
	}
	var n Note
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false
	}
	if n.Type != "Note" && n.Type != "Article" {
		return nil, false
	}
	return &n, true
}

// HTML returns the note content, falling back to the first contentMap entry.
func (n *Note) HTML() string {
	if n.Content != "" {
		return n.Content
	}
	for _, c := range n.ContentMap {
		if c != "" {
			return c
		}
	}
	return ""
}

// ConversationID returns the thread identifier when the server sends one.
func (n *Note) ConversationID() string {
	if id := idOf(n.Conversation); id != "" {
		return id
	}
	return idOf(n.Context)
}
