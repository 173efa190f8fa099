package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/deemkeen/translatebot/activitypub"
	"github.com/deemkeen/translatebot/domain"
	"github.com/gin-gonic/gin"
)

// handleInbox serves both the personal and the shared inbox. The response
// only depends on authentication, parsing and admission; translation and
// delivery happen later on the workers.
func (s *server) handleInbox(c *gin.Context) {
	if c.Param("actor") != "" && !s.isBot(c) {
		notFound(c)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		s.log.Warn("Failed to read inbox body", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	actor, err := s.deps.Auth.Authenticate(c.Request, body)
	if err != nil {
		s.log.Info("Unauthorized inbox request", "remote", c.ClientIP(), "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		s.log.Info("Malformed activity", "actor", actor.ID, "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := s.deps.Admission.Handle(c.Request.Context(), activity, *actor)
	switch res.Decision {
	case activitypub.Rejected:
		status := http.StatusBadRequest
		if errors.Is(res.Reason, domain.ErrActorMismatch) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": res.Reason.Error()})
	case activitypub.Failed:
		s.log.Error("Admission failed", "id", activity.ID, "err", res.Reason)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	default:
		if res.Outcome == activitypub.OutcomeFollowed && res.Follower != nil && s.deps.Acceptor != nil {
			s.deps.Acceptor.Dispatch(*res.Follower)
		}
		c.Status(http.StatusAccepted)
	}
}
