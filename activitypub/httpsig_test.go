package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"strings"
	"sync"
	"testing"
)

var (
	testKeyOnce  sync.Once
	testKey      *rsa.PrivateKey
	otherKeyOnce sync.Once
	otherKey     *rsa.PrivateKey
)

// generateTestKeyPair generates an RSA key pair for testing. The key is
// shared between tests because generation is slow.
func generateTestKeyPair() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	var err error
	testKeyOnce.Do(func() {
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
	})
	if err != nil {
		return nil, nil, err
	}
	return testKey, &testKey.PublicKey, nil
}

// calculateDigest calculates SHA-256 digest for request body
func calculateDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	keyBytes := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(key *rsa.PublicKey) (string, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM), nil
}

func mustKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	pubPem, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}
	return privateKey, pubPem
}

// mustOtherKeyPair returns a second key pair that does not match mustKeyPair
func mustOtherKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	var err error
	otherKeyOnce.Do(func() {
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
	})
	if err != nil || otherKey == nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	pubPem, err := publicKeyToPEM(&otherKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}
	return otherKey, pubPem
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to marshal PKCS8: %v", err)
	}
	pemString := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(pemString)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParseKeyInvalidInput(t *testing.T) {
	for _, in := range []string{"", "not a valid PEM"} {
		if _, err := ParsePrivateKey(in); err == nil {
			t.Errorf("Expected private key error for %q", in)
		}
		if _, err := ParsePublicKey(in); err == nil {
			t.Errorf("Expected public key error for %q", in)
		}
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pemString, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	parsed, err := ParsePublicKey(pemString)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestSignRequestAddsDigestForBody(t *testing.T) {
	privateKey, _ := mustKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req, _ := http.NewRequest(http.MethodPost, "https://remote.example/inbox", bytes.NewReader(body))
	if err := SignRequest(req, privateKey, "https://example.com/users/translate#main-key", body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if req.Header.Get("Digest") != calculateDigest(body) {
		t.Errorf("Expected digest %s, got %s", calculateDigest(body), req.Header.Get("Digest"))
	}
	if req.Header.Get("Date") == "" {
		t.Error("Expected Date header")
	}
	if req.Header.Get("Host") != "remote.example" {
		t.Errorf("Expected Host header, got %q", req.Header.Get("Host"))
	}
	sig := req.Header.Get("Signature")
	if !strings.Contains(sig, `keyId="https://example.com/users/translate#main-key"`) {
		t.Errorf("Signature missing keyId: %s", sig)
	}
	if !strings.Contains(sig, "digest") {
		t.Errorf("Signature should cover digest: %s", sig)
	}
}

func TestSignRequestWithoutBody(t *testing.T) {
	privateKey, _ := mustKeyPair(t)

	req, _ := http.NewRequest(http.MethodGet, "https://remote.example/users/alice", nil)
	if err := SignRequest(req, privateKey, "https://example.com/users/translate#main-key", nil); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	if req.Header.Get("Digest") != "" {
		t.Error("GET requests should not carry a digest")
	}
	if req.Header.Get("Signature") == "" {
		t.Error("Expected Signature header")
	}
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	privateKey, pubPem := mustKeyPair(t)
	body := []byte(`{"type":"Follow"}`)
	keyID := "https://remote.example/users/alice#main-key"

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/users/translate/inbox", bytes.NewReader(body))
	if err := SignRequest(req, privateKey, keyID, body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	got, err := VerifyRequest(req, pubPem)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if got != keyID {
		t.Errorf("Expected keyId %s, got %s", keyID, got)
	}
	if ActorFromKeyID(got) != "https://remote.example/users/alice" {
		t.Errorf("Unexpected actor %s", ActorFromKeyID(got))
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	privateKey, _ := mustKeyPair(t)
	_, otherPem := mustOtherKeyPair(t)

	body := []byte(`{}`)
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/inbox", bytes.NewReader(body))
	_ = SignRequest(req, privateKey, "https://remote.example/users/alice#main-key", body)

	if _, err := VerifyRequest(req, otherPem); err == nil {
		t.Error("Expected verification failure with the wrong key")
	}
}

func TestVerifyRequestTamperedHeader(t *testing.T) {
	privateKey, pubPem := mustKeyPair(t)
	body := []byte(`{}`)
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/inbox", bytes.NewReader(body))
	_ = SignRequest(req, privateKey, "https://remote.example/users/alice#main-key", body)

	req.Header.Set("Digest", calculateDigest([]byte(`{"evil":true}`)))
	if _, err := VerifyRequest(req, pubPem); err == nil {
		t.Error("Expected verification failure after tampering")
	}
}

func TestVerifyRequestUnsigned(t *testing.T) {
	_, pubPem := mustKeyPair(t)
	req, _ := http.NewRequest(http.MethodPost, "https://example.com/inbox", nil)
	if _, err := VerifyRequest(req, pubPem); err == nil {
		t.Error("Expected error for unsigned request")
	}
}

func TestActorFromKeyID(t *testing.T) {
	tests := []struct {
		keyID string
		want  string
	}{
		{"https://example.com/users/alice#main-key", "https://example.com/users/alice"},
		{"https://example.com/users/alice", "https://example.com/users/alice"},
	}
	for _, tt := range tests {
		if got := ActorFromKeyID(tt.keyID); got != tt.want {
			t.Errorf("ActorFromKeyID(%q) = %q, want %q", tt.keyID, got, tt.want)
		}
	}
}
