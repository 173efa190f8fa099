package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

var (
	postHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
	getHeaders  = []string{httpsig.RequestTarget, "host", "date"}
)

// SignRequest signs an outgoing HTTP request with the given private key.
// Requests with a body also get a SHA-256 Digest header.
// keyId format: "https://example.com/users/translate#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	// httpsig reads host from the header map, net/http keeps it on the request
	req.Header.Set("Host", req.URL.Host)

	headers := getHeaders
	if body != nil {
		headers = postHeaders
	}

	// Signers are not safe for concurrent use, so build one per request
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest verifies the HTTP signature on an incoming request against
// publicKeyPem. It returns the keyId the request was signed with.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.Host)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return verifier.KeyId(), nil
}

// SignatureKeyID returns the keyId named in the request's signature header.
func SignatureKeyID(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to read signature: %w", err)
	}
	return verifier.KeyId(), nil
}

// ActorFromKeyID strips the fragment from a keyId
// ("https://example.com/users/alice#main-key" -> "https://example.com/users/alice").
func ActorFromKeyID(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
