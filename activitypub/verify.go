package activitypub

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/translatebot/domain"
)

// ErrUnauthorized wraps every reason an inbound request is not trusted.
var ErrUnauthorized = errors.New("unauthorized")

// ActorResolver looks up the actor that owns a key.
type ActorResolver interface {
	Resolve(ctx context.Context, actorURI string) (*domain.RemoteActor, error)
	Refresh(ctx context.Context, actorURI string) (*domain.RemoteActor, error)
}

// Verifier authenticates inbound inbox requests: body digest, date window
// and HTTP signature against the signer's published key.
type Verifier struct {
	actors  ActorResolver
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(actors ActorResolver, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 12 * time.Hour
	}
	return &Verifier{actors: actors, maxSkew: maxSkew, now: time.Now}
}

// Authenticate returns the verified signer of r. body is the already read
// request body.
func (v *Verifier) Authenticate(r *http.Request, body []byte) (*domain.RemoteActor, error) {
	if r.Header.Get("Signature") == "" && r.Header.Get("Authorization") == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrUnauthorized)
	}
	if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := v.checkDate(r.Header.Get("Date")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	keyID, err := SignatureKeyID(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	ctx := r.Context()
	actor, err := v.actors.Resolve(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve key %s: %v", ErrUnauthorized, keyID, err)
	}

	if _, err := VerifyRequest(r, actor.PublicKeyPem); err != nil {
		// The cached key may have been rotated
		fresh, ferr := v.actors.Refresh(ctx, keyID)
		if ferr != nil || fresh.PublicKeyPem == actor.PublicKeyPem {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if _, err := VerifyRequest(r, fresh.PublicKeyPem); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		actor = fresh
	}
	return actor, nil
}

// checkDigest compares a "SHA-256=<base64>" Digest header with body. A body
// without a digest is refused.
func checkDigest(header string, body []byte) error {
	if header == "" {
		if len(body) == 0 {
			return nil
		}
		return errors.New("missing digest")
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
			return nil
		}
		return errors.New("digest mismatch")
	}
	return errors.New("unsupported digest algorithm")
}

func (v *Verifier) checkDate(header string) error {
	if header == "" {
		return errors.New("missing date")
	}
	date, err := http.ParseTime(header)
	if err != nil {
		return fmt.Errorf("invalid date: %v", err)
	}
	skew := v.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("date %s outside the accepted window", header)
	}
	return nil
}
