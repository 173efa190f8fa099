package activitypub

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/translatebot/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Inbox             string `json:"inbox"`
	Owner             string `json:"owner"` // set when the document is a bare key
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	PublicKeyPem string `json:"publicKeyPem"` // set when the document is a bare key
}

// Resolver fetches remote actors and caches them.
type Resolver struct {
	client     *http.Client
	privateKey *rsa.PrivateKey
	keyID      string
	cache      *expirable.LRU[string, *domain.RemoteActor]
}

// NewResolver creates a resolver. When privateKey is set, fetches are signed
// so servers running in authorized-fetch mode answer them.
func NewResolver(client *http.Client, privateKey *rsa.PrivateKey, keyID string, cacheSize int, ttl time.Duration) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Resolver{
		client:     client,
		privateKey: privateKey,
		keyID:      keyID,
		cache:      expirable.NewLRU[string, *domain.RemoteActor](cacheSize, nil, ttl),
	}
}

// Resolve returns the actor from cache or fetches it if not cached/stale.
func (r *Resolver) Resolve(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	if cached, ok := r.cache.Get(actorURI); ok {
		return cached, nil
	}
	return r.Refresh(ctx, actorURI)
}

// Refresh fetches actorURI, bypassing the cache. A keyId or a key document
// resolves to the owning actor. The actor must live on the host its key was
// fetched from and must publish the key that was asked for.
func (r *Resolver) Refresh(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	fetchURL := ActorFromKeyID(actorURI)
	doc, err := r.fetch(ctx, fetchURL)
	if err != nil {
		return nil, err
	}
	if err := checkSameHost(doc.ID, fetchURL); err != nil {
		return nil, err
	}

	if doc.Inbox == "" && doc.Owner != "" && doc.Owner != doc.ID {
		owner := doc.Owner
		if err := checkSameHost(owner, fetchURL); err != nil {
			return nil, err
		}
		doc, err = r.fetch(ctx, owner)
		if err != nil {
			return nil, err
		}
		if doc.ID != owner {
			return nil, fmt.Errorf("key owner %s answered as %s", owner, doc.ID)
		}
	}

	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	if doc.PublicKey.Owner != doc.ID {
		return nil, fmt.Errorf("key of %s is owned by %q", doc.ID, doc.PublicKey.Owner)
	}
	if actorURI != doc.ID && doc.PublicKey.ID != actorURI {
		return nil, fmt.Errorf("actor %s does not publish key %s", doc.ID, actorURI)
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, err
	}

	actor := &domain.RemoteActor{
		ID:                doc.ID,
		PreferredUsername: doc.PreferredUsername,
		Domain:            domainName,
		InboxURL:          doc.Inbox,
		SharedInboxURL:    doc.Endpoints.SharedInbox,
		PublicKeyPem:      doc.PublicKey.PublicKeyPem,
	}
	r.cache.Add(actor.ID, actor)
	if actorURI != actor.ID {
		r.cache.Add(actorURI, actor)
	}
	return actor, nil
}

// checkSameHost refuses a document whose id is not on the host it came from.
func checkSameHost(id, fetched string) error {
	idHost, err := extractDomain(id)
	if err != nil {
		return err
	}
	fetchedHost, err := extractDomain(fetched)
	if err != nil {
		return err
	}
	if !strings.EqualFold(idHost, fetchedHost) {
		return fmt.Errorf("document from %s claims id %s", fetchedHost, id)
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) (*ActorResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", UserAgent)

	if r.privateKey != nil {
		if err := SignRequest(req, r.privateKey, r.keyID, nil); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if doc.PublicKey.PublicKeyPem == "" && doc.PublicKeyPem != "" {
		doc.PublicKey.PublicKeyPem = doc.PublicKeyPem
	}
	return &doc, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %s", actorURI)
	}

	return parsed.Host, nil
}
