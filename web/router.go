package web

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/activitypub"
	"github.com/deemkeen/translatebot/domain"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	contentTypeActivity = "application/activity+json; charset=utf-8"
	contentTypeJRD      = "application/jrd+json; charset=utf-8"
	defaultMaxBodyBytes = 1 * 1024 * 1024
)

// Authenticator verifies the signer of an inbox request.
type Authenticator interface {
	Authenticate(r *http.Request, body []byte) (*domain.RemoteActor, error)
}

// Admitter classifies a verified activity.
type Admitter interface {
	Handle(ctx context.Context, activity domain.Activity, actor domain.RemoteActor) activitypub.Result
}

// AcceptDispatcher answers a new follower without blocking the request.
type AcceptDispatcher interface {
	Dispatch(follower domain.Follower)
}

// FollowerLister backs the followers collection.
type FollowerLister interface {
	CountFollowers(ctx context.Context) (int, error)
	ReadFollowers(ctx context.Context, limit, offset int) ([]domain.Follower, error)
}

// Options describe the bot as published on the web.
type Options struct {
	Domain       string
	Username     string
	DisplayName  string
	Summary      string
	PublicKeyPem string
	Version      string

	RateLimit    rate.Limit // per client IP on inbox routes, 0 disables
	Burst        int
	MaxBodyBytes int64
}

type Deps struct {
	Outbox    *activitypub.Outbox
	Auth      Authenticator
	Admission Admitter
	Acceptor  AcceptDispatcher
	Followers FollowerLister
	// Health returns the statistics shown by /health.
	Health func() any
}

type server struct {
	opts Options
	deps Deps
	log  *log.Logger
}

// NewRouter builds the HTTP handler for the bot.
func NewRouter(deps Deps, opts Options, logger *log.Logger) *gin.Engine {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &server{opts: opts, deps: deps, log: logger.WithPrefix("HTTP")}

	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	inboxChain := []gin.HandlerFunc{MaxBytesMiddleware(opts.MaxBodyBytes)}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		inboxChain = append([]gin.HandlerFunc{RateLimitMiddleware(NewRateLimiter(opts.RateLimit, burst))}, inboxChain...)
	}

	g.POST("/inbox", append(inboxChain, s.handleInbox)...)
	g.POST("/users/:actor/inbox", append(inboxChain, s.handleInbox)...)

	g.GET("/users/:actor", s.handleActor)
	g.GET("/users/:actor/followers", s.handleFollowers)
	g.GET("/users/:actor/following", s.handleFollowing)
	g.GET("/users/:actor/outbox", s.handleOutbox)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", s.handleNodeinfoDiscovery)
	g.GET("/nodeinfo/2.1", s.handleNodeinfo)

	g.GET("/health", s.handleHealth)

	return g
}

// isBot reports whether a :actor path parameter names the bot.
func (s *server) isBot(c *gin.Context) bool {
	return c.Param("actor") == s.opts.Username
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

func (s *server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if s.deps.Health != nil {
		resp["stats"] = s.deps.Health()
	}
	c.JSON(http.StatusOK, resp)
}
