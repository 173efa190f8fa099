package web

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const securityContext = "https://w3id.org/security/v1"

// GetActor renders the bot's Person document.
func GetActor(s Options, urls actorURLs) ([]byte, error) {
	displayName := s.DisplayName
	if displayName == "" {
		displayName = s.Username
	}

	actor := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			securityContext,
		},
		"id":                        urls.ActorID(),
		"type":                      "Person",
		"preferredUsername":         s.Username,
		"name":                      displayName,
		"summary":                   s.Summary,
		"inbox":                     urls.InboxURL(),
		"outbox":                    urls.OutboxURL(),
		"followers":                 urls.FollowersURL(),
		"following":                 urls.ActorID() + "/following",
		"url":                       urls.ProfileURL(),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]string{
			"sharedInbox": urls.SharedInboxURL(),
		},
		"publicKey": map[string]string{
			"id":           urls.KeyID(),
			"owner":        urls.ActorID(),
			"publicKeyPem": s.PublicKeyPem,
		},
	}
	return json.Marshal(actor)
}

// actorURLs is the part of activitypub.Outbox the documents link to.
type actorURLs interface {
	ActorID() string
	KeyID() string
	ProfileURL() string
	InboxURL() string
	OutboxURL() string
	FollowersURL() string
	SharedInboxURL() string
}

func (s *server) handleActor(c *gin.Context) {
	if !s.isBot(c) {
		notFound(c)
		return
	}
	doc, err := GetActor(s.opts, s.deps.Outbox)
	if err != nil {
		s.log.Error("Failed to render actor", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.Data(http.StatusOK, contentTypeActivity, doc)
}
