package domain

import (
	"fmt"
	"time"
)

// Follower is a remote actor that follows the bot
type Follower struct {
	ActorID          string
	InboxURL         string
	SharedInboxURL   string // optional
	FollowActivityID string // id of the Follow that created the record, used to match string-form Undo
	FollowedAt       time.Time
}

func (f *Follower) ToString() string {
	return fmt.Sprintf("\n\tActor: %s \n\tInbox: %s \n\tSharedInbox: %s \n\tFollowedAt: %s", f.ActorID, f.InboxURL, f.SharedInboxURL, f.FollowedAt)
}
