package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

const DefaultKeyBits = 4096

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair creates an RSA key pair: PKCS#1 private key and PKIX
// public key, the form ActivityPub servers expect in publicKeyPem.
func GeneratePemKeypair(bits int) (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// LoadOrCreateKeyPair reads the bot key pair from disk. When the private
// key is missing a new pair is generated and written, private key 0600.
// created reports whether that happened.
func LoadOrCreateKeyPair(privatePath, publicPath string, bits int) (pair *RsaKeyPair, created bool, err error) {
	priv, privErr := os.ReadFile(privatePath)
	pub, pubErr := os.ReadFile(publicPath)

	if privErr == nil && pubErr == nil {
		return &RsaKeyPair{Private: string(priv), Public: string(pub)}, false, nil
	}
	if privErr == nil || !errors.Is(privErr, os.ErrNotExist) {
		// a private key without its public half, or an unreadable file,
		// must not be silently replaced
		if privErr == nil {
			privErr = pubErr
		}
		return nil, false, fmt.Errorf("failed to read key pair: %w", privErr)
	}

	pair, err = GeneratePemKeypair(bits)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate key pair: %w", err)
	}
	for _, f := range []struct {
		path string
		data string
		mode os.FileMode
	}{
		{privatePath, pair.Private, 0600},
		{publicPath, pair.Public, 0644},
	} {
		if dir := filepath.Dir(f.path); dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, false, fmt.Errorf("failed to create key directory: %w", err)
			}
		}
		if err := os.WriteFile(f.path, []byte(f.data), f.mode); err != nil {
			return nil, false, fmt.Errorf("failed to write key: %w", err)
		}
	}
	return pair, true, nil
}
