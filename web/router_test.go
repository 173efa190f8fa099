package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/translatebot/activitypub"
	"github.com/deemkeen/translatebot/db"
	"github.com/deemkeen/translatebot/domain"
	"github.com/deemkeen/translatebot/queue"
	"github.com/deemkeen/translatebot/retry"
	"github.com/deemkeen/translatebot/worker"
	"github.com/gin-gonic/gin"
)

const (
	testDomain  = "example.com"
	testBot     = "translate"
	testBotID   = "https://example.com/users/translate"
	testAliceID = "https://mastodon.social/users/alice"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

type fakeAuth struct {
	err error
}

func (a fakeAuth) Authenticate(r *http.Request, body []byte) (*domain.RemoteActor, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &domain.RemoteActor{
		ID:                testAliceID,
		PreferredUsername: "alice",
		Domain:            "mastodon.social",
		InboxURL:          testAliceID + "/inbox",
	}, nil
}

type recordingAcceptor struct {
	mu        sync.Mutex
	followers []domain.Follower
}

func (a *recordingAcceptor) Dispatch(f domain.Follower) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.followers = append(a.followers, f)
}

// blockingGateway holds every call until release is closed.
type blockingGateway struct {
	release chan struct{}
	calls   chan struct{}
}

func (g *blockingGateway) DetectLanguage(ctx context.Context, text string) (string, error) {
	select {
	case g.calls <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return "fr", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *blockingGateway) Translate(ctx context.Context, text, target string) (string, error) {
	return "Olá a todos", nil
}

type countingDeliverer struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func (d *countingDeliverer) Deliver(ctx context.Context, payload []byte, inbox string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if d.count == 1 {
		close(d.done)
	}
	return nil
}

type testEnv struct {
	router   *gin.Engine
	store    *db.DB
	queue    *queue.Queue
	acceptor *recordingAcceptor
}

func newTestEnv(t *testing.T, auth Authenticator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.Open(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	outbox := activitypub.NewOutbox(testDomain, testBot)
	q := queue.New(8, queue.DropOldest, 0)
	admission := activitypub.NewAdmission(activitypub.AdmissionConfig{
		BotID:   outbox.ActorID(),
		BotURLs: []string{outbox.ProfileURL()},
	}, store, q, queue.NewRecentSet(64, time.Hour), quietLogger())

	acceptor := &recordingAcceptor{}
	router := NewRouter(Deps{
		Outbox:    outbox,
		Auth:      auth,
		Admission: admission,
		Acceptor:  acceptor,
		Followers: store,
		Health: func() any {
			return map[string]any{"queue": q.Stats()}
		},
	}, Options{
		Domain:       testDomain,
		Username:     testBot,
		DisplayName:  "Translate Bot",
		Summary:      "I translate",
		PublicKeyPem: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
		Version:      "1.0.0",
	}, quietLogger())

	return &testEnv{router: router, store: store, queue: q, acceptor: acceptor}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	e.router.ServeHTTP(w, req)
	return w
}

func followJSON(id string) string {
	return fmt.Sprintf(`{"id":%q,"type":"Follow","actor":%q,"object":%q}`, id, testAliceID, testBotID)
}

func mentionCreate(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "Create",
		"actor": %q,
		"object": {
			"id": "https://mastodon.social/users/alice/statuses/1",
			"type": "Note",
			"attributedTo": %q,
			"content": "<p><span class=\"h-card\"><a href=\"https://example.com/@translate\" class=\"u-url mention\">@<span>translate</span></a></span> Bonjour à tous</p>",
			"tag": [{"type": "Mention", "href": %q}]
		}
	}`, id, testAliceID, testAliceID, testBotID)
}

func TestInboxFollowStoresAndAccepts(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})

	w := env.do("POST", "/users/translate/inbox", followJSON("https://mastodon.social/follows/1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	f, err := env.store.ReadFollower(context.Background(), testAliceID)
	if err != nil || f == nil {
		t.Fatalf("Follower not stored: %v", err)
	}
	if len(env.acceptor.followers) != 1 || env.acceptor.followers[0].ActorID != testAliceID {
		t.Errorf("Expected one Accept dispatch, got %+v", env.acceptor.followers)
	}
}

func TestInboxStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		auth   fakeAuth
		path   string
		body   string
		status int
	}{
		{"unsigned", fakeAuth{err: activitypub.ErrUnauthorized}, "/inbox", followJSON("f1"), http.StatusUnauthorized},
		{"malformed json", fakeAuth{}, "/inbox", `{"type":`, http.StatusBadRequest},
		{"missing actor", fakeAuth{}, "/inbox", `{"id":"x","type":"Follow","object":"y"}`, http.StatusBadRequest},
		{"actor mismatch", fakeAuth{}, "/inbox", `{"id":"x","type":"Follow","actor":"https://evil.example/users/mallory","object":"https://example.com/users/translate"}`, http.StatusUnauthorized},
		{"unsupported type", fakeAuth{}, "/inbox", fmt.Sprintf(`{"id":"x","type":"Like","actor":%q,"object":"y"}`, testAliceID), http.StatusAccepted},
		{"mention", fakeAuth{}, "/inbox", mentionCreate("https://mastodon.social/activities/1"), http.StatusAccepted},
		{"other user inbox", fakeAuth{}, "/users/someone/inbox", followJSON("f2"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.auth)
			w := env.do("POST", tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestInboxDuplicateCreateEnqueuedOnce(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	body := mentionCreate("https://mastodon.social/activities/7")

	for i := 0; i < 3; i++ {
		if w := env.do("POST", "/inbox", body); w.Code != http.StatusAccepted {
			t.Fatalf("Delivery %d: expected 202, got %d", i, w.Code)
		}
	}
	if env.queue.Len() != 1 {
		t.Errorf("Expected exactly one job, got %d", env.queue.Len())
	}
}

func TestInboxBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	big := `{"pad":"` + strings.Repeat("x", defaultMaxBodyBytes) + `"}`
	if w := env.do("POST", "/inbox", big); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestInboxAnswersBeforeTranslation(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	gateway := &blockingGateway{release: make(chan struct{}), calls: make(chan struct{}, 1)}
	deliverer := &countingDeliverer{done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := worker.Start(ctx, 1, env.queue, worker.Deps{
		Gateway:   gateway,
		Encoder:   activitypub.NewOutbox(testDomain, testBot),
		Deliverer: deliverer,
	}, worker.Config{
		TargetLanguage:   "pt",
		CallTimeout:      5 * time.Second,
		TranslationRetry: retry.Policy{MaxAttempts: 1},
		DeliveryRetry:    retry.Policy{MaxAttempts: 1},
	}, quietLogger())

	start := time.Now()
	w := env.do("POST", "/inbox", mentionCreate("https://mastodon.social/activities/9"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	select {
	case <-gateway.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker never reached the gateway")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Inbox response took %v", elapsed)
	}

	close(gateway.release)
	select {
	case <-deliverer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reply was never delivered")
	}

	env.queue.Close()
	pool.Wait()
}

func TestActorDocument(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})

	w := env.do("GET", "/users/translate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/activity+json") {
		t.Errorf("Unexpected content type %s", ct)
	}

	var actor struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Inbox     string `json:"inbox"`
		Endpoints struct {
			SharedInbox string `json:"sharedInbox"`
		} `json:"endpoints"`
		PublicKey struct {
			ID           string `json:"id"`
			Owner        string `json:"owner"`
			PublicKeyPem string `json:"publicKeyPem"`
		} `json:"publicKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &actor); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if actor.ID != testBotID || actor.Type != "Person" || actor.Inbox != testBotID+"/inbox" {
		t.Errorf("Unexpected actor %+v", actor)
	}
	if actor.Endpoints.SharedInbox != "https://example.com/inbox" {
		t.Errorf("Unexpected shared inbox %s", actor.Endpoints.SharedInbox)
	}
	if actor.PublicKey.ID != testBotID+"#main-key" || actor.PublicKey.Owner != testBotID || !strings.Contains(actor.PublicKey.PublicKeyPem, "BEGIN PUBLIC KEY") {
		t.Errorf("Unexpected public key %+v", actor.PublicKey)
	}

	if w := env.do("GET", "/users/someone", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", w.Code)
	}
}

func TestFollowersCollection(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		f := &domain.Follower{
			ActorID:    fmt.Sprintf("https://mastodon.social/users/u%02d", i),
			InboxURL:   "https://mastodon.social/inbox",
			FollowedAt: time.UnixMilli(int64(1_700_000_000_000 + i)),
		}
		if err := env.store.UpsertFollower(ctx, f); err != nil {
			t.Fatalf("UpsertFollower failed: %v", err)
		}
	}

	w := env.do("GET", "/users/translate/followers", "")
	var summary struct {
		Type       string `json:"type"`
		TotalItems int    `json:"totalItems"`
		First      string `json:"first"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &summary)
	if summary.Type != "OrderedCollection" || summary.TotalItems != 25 || summary.First != testBotID+"/followers?page=1" {
		t.Errorf("Unexpected collection %s", w.Body.String())
	}

	w = env.do("GET", "/users/translate/followers?page=2", "")
	var page struct {
		Type  string   `json:"type"`
		Items []string `json:"orderedItems"`
		Next  string   `json:"next"`
		Prev  string   `json:"prev"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if page.Type != "OrderedCollectionPage" || len(page.Items) != 5 {
		t.Fatalf("Unexpected page %s", w.Body.String())
	}
	if page.Items[0] != "https://mastodon.social/users/u20" || page.Next != "" || page.Prev == "" {
		t.Errorf("Unexpected paging %+v", page)
	}
}

func TestEmptyCollections(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	for _, path := range []string{"/users/translate/outbox", "/users/translate/following"} {
		w := env.do("GET", path, "")
		var c struct {
			ID         string `json:"id"`
			TotalItems int    `json:"totalItems"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil || w.Code != http.StatusOK {
			t.Fatalf("%s: %d %v", path, w.Code, err)
		}
		if c.ID != "https://example.com"+path || c.TotalItems != 0 {
			t.Errorf("%s: unexpected collection %s", path, w.Body.String())
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	w := env.do("GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Stats  struct {
			Queue queue.Stats `json:"queue"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Status != "ok" || resp.Stats.Queue.Capacity != 8 {
		t.Errorf("Unexpected health %s", w.Body.String())
	}
}

func TestGzipOnDocuments(t *testing.T) {
	env := newTestEnv(t, fakeAuth{})
	req := httptest.NewRequest("GET", "/users/translate", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	if bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		t.Error("Body should be compressed")
	}
}

func TestInboxRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Deps{
		Outbox: activitypub.NewOutbox(testDomain, testBot),
		Auth:   fakeAuth{err: errors.New("nope")},
	}, Options{Domain: testDomain, Username: testBot, RateLimit: 1, Burst: 1}, quietLogger())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/inbox", strings.NewReader("{}"))
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected 401 then 429, got %v", codes)
	}
}
