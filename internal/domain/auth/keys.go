package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource supplies the RS256 key pair.
type KeySource interface {
	SigningKey() (*rsa.PrivateKey, error)
	VerificationKey() (*rsa.PublicKey, error)
}

// KeyRing loads the key pair from PEM files on first use. Loading happens
// exactly once even under concurrent first use; a failure is remembered.
type KeyRing struct {
	privatePath string
	publicPath  string

	once    sync.Once
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	err     error
}

// NewKeyRing creates a KeyRing. When publicPath is empty the public key is
// derived from the private key.
func NewKeyRing(privatePath, publicPath string) *KeyRing {
	return &KeyRing{privatePath: privatePath, publicPath: publicPath}
}

func (k *KeyRing) load() {
	k.once.Do(func() {
		if k.privatePath == "" {
			k.err = fmt.Errorf("%w: no private key path configured", ErrNoSigningKey)
			return
		}
		data, err := os.ReadFile(k.privatePath)
		if err != nil {
			k.err = fmt.Errorf("%w: read %s: %w", ErrNoSigningKey, k.privatePath, err)
			return
		}
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			k.err = fmt.Errorf("%w: parse %s: %w", ErrNoSigningKey, k.privatePath, err)
			return
		}

		pub := &priv.PublicKey
		if k.publicPath != "" {
			data, err := os.ReadFile(k.publicPath)
			if err != nil {
				k.err = fmt.Errorf("%w: read %s: %w", ErrNoSigningKey, k.publicPath, err)
				return
			}
			if pub, err = jwt.ParseRSAPublicKeyFromPEM(data); err != nil {
				k.err = fmt.Errorf("%w: parse %s: %w", ErrNoSigningKey, k.publicPath, err)
				return
			}
			if !pub.Equal(&priv.PublicKey) {
				k.err = fmt.Errorf("%w: %s does not match %s", ErrNoSigningKey, k.publicPath, k.privatePath)
				return
			}
		}
		k.private, k.public = priv, pub
	})
}

// Load forces the first-use initialization and reports its outcome.
func (k *KeyRing) Load() error {
	k.load()
	return k.err
}

func (k *KeyRing) SigningKey() (*rsa.PrivateKey, error) {
	k.load()
	return k.private, k.err
}

func (k *KeyRing) VerificationKey() (*rsa.PublicKey, error) {
	k.load()
	return k.public, k.err
}

// StaticKeys serves an in-memory key pair.
type StaticKeys struct {
	Private *rsa.PrivateKey
}

func (s StaticKeys) SigningKey() (*rsa.PrivateKey, error) {
	if s.Private == nil {
		return nil, ErrNoSigningKey
	}
	return s.Private, nil
}

func (s StaticKeys) VerificationKey() (*rsa.PublicKey, error) {
	if s.Private == nil {
		return nil, ErrNoSigningKey
	}
	return &s.Private.PublicKey, nil
}
