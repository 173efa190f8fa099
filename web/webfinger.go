package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const nodeinfoSchema = "http://nodeinfo.diaspora.software/ns/schema/2.1"

// webfingerUser returns the local username a resource names, or "" when it
// is not one of ours. Accepts acct:user@domain and the actor URL.
func webfingerUser(resource, domain string, urls actorURLs) string {
	if resource == urls.ActorID() || resource == urls.ProfileURL() {
		return strings.TrimPrefix(urls.ActorID(), fmt.Sprintf("https://%s/users/", domain))
	}
	if !strings.HasPrefix(resource, "acct:") {
		return ""
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(resource, "acct:"), "@")
	user, host, ok := strings.Cut(rest, "@")
	if !ok || user == "" || !strings.EqualFold(host, domain) {
		return ""
	}
	return user
}

func GetWebfinger(s Options, urls actorURLs) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"subject": fmt.Sprintf("acct:%s@%s", s.Username, s.Domain),
		"aliases": []string{urls.ActorID(), urls.ProfileURL()},
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": urls.ActorID(),
			},
			{
				"rel":  "http://webfinger.net/rel/profile-page",
				"type": "text/html",
				"href": urls.ProfileURL(),
			},
		},
	})
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}

func (s *server) handleWebfinger(c *gin.Context) {
	user := webfingerUser(c.Query("resource"), s.opts.Domain, s.deps.Outbox)
	if user == "" || !strings.EqualFold(user, s.opts.Username) {
		c.Data(http.StatusNotFound, contentTypeJRD, []byte(GetWebFingerNotFound()))
		return
	}
	resp, err := GetWebfinger(s.opts, s.deps.Outbox)
	if err != nil {
		c.Data(http.StatusInternalServerError, contentTypeJRD, []byte(GetWebFingerNotFound()))
		return
	}
	c.Data(http.StatusOK, contentTypeJRD, resp)
}

func (s *server) handleNodeinfoDiscovery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{{
			"rel":  nodeinfoSchema,
			"href": fmt.Sprintf("https://%s/nodeinfo/2.1", s.opts.Domain),
		}},
	})
}

func (s *server) handleNodeinfo(c *gin.Context) {
	c.Header("Content-Type", `application/json; profile="`+nodeinfoSchema+`#"`)
	c.JSON(http.StatusOK, gin.H{
		"version": "2.1",
		"software": gin.H{
			"name":    "translate-bot",
			"version": s.opts.Version,
		},
		"protocols":         []string{"activitypub"},
		"services":          gin.H{"inbound": []string{}, "outbound": []string{}},
		"openRegistrations": false,
		"usage": gin.H{
			"users": gin.H{"total": 1},
		},
		"metadata": gin.H{},
	})
}
