package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	activityStreamsContext = "https://www.w3.org/ns/activitystreams"
	itemsPerPage           = 20
)

// emptyCollection is used for the outbox and following: the bot publishes
// nothing but replies and follows nobody.
func emptyCollection(id string) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"@context":     activityStreamsContext,
		"id":           id,
		"type":         "OrderedCollection",
		"totalItems":   0,
		"orderedItems": []string{},
	})
}

func (s *server) handleOutbox(c *gin.Context) {
	s.serveEmpty(c, s.deps.Outbox.OutboxURL())
}

func (s *server) handleFollowing(c *gin.Context) {
	s.serveEmpty(c, s.deps.Outbox.ActorID()+"/following")
}

func (s *server) serveEmpty(c *gin.Context, id string) {
	if !s.isBot(c) {
		notFound(c)
		return
	}
	doc, err := emptyCollection(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.Data(http.StatusOK, contentTypeActivity, doc)
}

// handleFollowers returns the collection summary, or a page of follower
// ids when ?page=N is given.
func (s *server) handleFollowers(c *gin.Context) {
	if !s.isBot(c) {
		notFound(c)
		return
	}
	ctx := c.Request.Context()
	collectionURL := s.deps.Outbox.FollowersURL()

	var doc map[string]interface{}
	page := ParsePageParam(c.Query("page"))
	if page == 0 {
		total, err := s.deps.Followers.CountFollowers(ctx)
		if err != nil {
			s.log.Error("Failed to count followers", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		doc = map[string]interface{}{
			"@context":   activityStreamsContext,
			"id":         collectionURL,
			"type":       "OrderedCollection",
			"totalItems": total,
		}
		if total > 0 {
			doc["first"] = fmt.Sprintf("%s?page=1", collectionURL)
		}
	} else {
		// one extra row tells whether a next page exists
		followers, err := s.deps.Followers.ReadFollowers(ctx, itemsPerPage+1, (page-1)*itemsPerPage)
		if err != nil {
			s.log.Error("Failed to read followers", "page", page, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		hasMore := len(followers) > itemsPerPage
		if hasMore {
			followers = followers[:itemsPerPage]
		}
		items := make([]string, 0, len(followers))
		for _, f := range followers {
			items = append(items, f.ActorID)
		}

		doc = map[string]interface{}{
			"@context":     activityStreamsContext,
			"id":           fmt.Sprintf("%s?page=%d", collectionURL, page),
			"type":         "OrderedCollectionPage",
			"partOf":       collectionURL,
			"orderedItems": items,
		}
		if hasMore {
			doc["next"] = fmt.Sprintf("%s?page=%d", collectionURL, page+1)
		}
		if page > 1 {
			doc["prev"] = fmt.Sprintf("%s?page=%d", collectionURL, page-1)
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.Data(http.StatusOK, contentTypeActivity, body)
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
