package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ActivityKind is the classification of an inbound activity
type ActivityKind int

const (
	KindOther ActivityKind = iota
	KindFollow
	KindCreate
	KindUndo
)

func (k ActivityKind) String() string {
	switch k {
	case KindFollow:
		return "Follow"
	case KindCreate:
		return "Create"
	case KindUndo:
		return "Undo"
	default:
		return "Other"
	}
}

// KindOf maps an ActivityStreams type name to its kind.
func KindOf(activityType string) ActivityKind {
	switch activityType {
	case "Follow":
		return KindFollow
	case "Create":
		return KindCreate
	case "Undo":
		return KindUndo
	default:
		return KindOther
	}
}

// Activity is an inbound activity after parsing. Kind is derived once at
// parse time and is never re-evaluated.
type Activity struct {
	Kind     ActivityKind
	Type     string
	ID       string
	ActorID  string
	ObjectID string
	Object   json.RawMessage // the "object" member as received (string or embedded object)
	Payload  json.RawMessage // the whole document
}

// RemoteActor is a federated account whose identity has been verified
type RemoteActor struct {
	ID                string
	PreferredUsername string
	Domain            string
	InboxURL          string
	SharedInboxURL    string
	PublicKeyPem      string
}

// Handle returns the actor as @user@domain, falling back to the actor id.
func (a RemoteActor) Handle() string {
	username := a.PreferredUsername
	if username == "" {
		username = lastPathSegment(a.ID)
	}
	host := a.Domain
	if host == "" {
		if u, err := url.Parse(a.ID); err == nil {
			host = u.Host
		}
	}
	if username == "" || host == "" {
		return a.ID
	}
	return fmt.Sprintf("@%s@%s", strings.TrimPrefix(username, "@"), host)
}

func lastPathSegment(uri string) string {
	trimmed := strings.TrimRight(uri, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return ""
}
