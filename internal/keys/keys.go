// Package keys owns the RSA key pair that signs access tokens and the JWKS
// document that publishes its public half.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/plink-mcp/internal/errors"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// KeyID is the only key id ever published.
const KeyID = "mcp-kid-1"

const ephemeralBits = 2048

// Config holds the PEM material, if any, and whether a generated pair is
// acceptable when none is supplied.
type Config struct {
	PrivateKeyPEM  string
	PublicKeyPEM   string
	AllowEphemeral bool
}

// Manager lazily initialises the signing key exactly once per process.
type Manager struct {
	cfg Config

	once      sync.Once
	err       error
	priv      *rsa.PrivateKey
	jwks      jose.JSONWebKeySet
	ephemeral bool
}

// NewManager returns a Manager that loads or generates its key on first use.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// EnsureKeyPair initialises the key pair. It is safe to call concurrently
// and repeatedly; every call returns the outcome of the first.
func (m *Manager) EnsureKeyPair() error {
	m.once.Do(func() {
		m.err = m.init()
	})

	return m.err
}

func (m *Manager) init() error {
	var (
		priv *rsa.PrivateKey
		pub  *rsa.PublicKey
		err  error
	)

	hasPriv := strings.TrimSpace(m.cfg.PrivateKeyPEM) != ""
	hasPub := strings.TrimSpace(m.cfg.PublicKeyPEM) != ""

	switch {
	case hasPriv && hasPub:
		priv, err = parsePrivateKey(NormalizePEM(m.cfg.PrivateKeyPEM))
		if err != nil {
			return fmt.Errorf("importing private key: %w", err)
		}

		pub, err = parsePublicKey(NormalizePEM(m.cfg.PublicKeyPEM))
		if err != nil {
			return fmt.Errorf("importing public key: %w", err)
		}

		if !priv.PublicKey.Equal(pub) {
			return errors.New("public key does not match private key")
		}

	case hasPriv || hasPub:
		return errors.New("both private and public key PEM must be set")

	case m.cfg.AllowEphemeral:
		priv, err = rsa.GenerateKey(rand.Reader, ephemeralBits)
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		pub = &priv.PublicKey
		m.ephemeral = true

	default:
		return apperrors.ErrNoSigningKey
	}

	m.priv = priv
	m.jwks = jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     KeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}

	return nil
}

// Ephemeral reports whether the key was generated in-process. Tokens
// signed with an ephemeral key do not survive a restart.
func (m *Manager) Ephemeral() bool {
	return m.EnsureKeyPair() == nil && m.ephemeral
}

// JWKS returns the published key set.
func (m *Manager) JWKS() (jose.JSONWebKeySet, error) {
	if err := m.EnsureKeyPair(); err != nil {
		return jose.JSONWebKeySet{}, err
	}

	return m.jwks, nil
}

// PublicKey looks kid up in the published key set.
func (m *Manager) PublicKey(kid string) (*rsa.PublicKey, error) {
	jwks, err := m.JWKS()
	if err != nil {
		return nil, err
	}

	found := jwks.Key(kid)
	if len(found) == 0 {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	pub, ok := found[0].Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %q is not an RSA public key", kid)
	}

	return pub, nil
}

// Sign produces a compact RS256 JWT carrying claims, with the kid header
// set to KeyID.
func (m *Manager) Sign(claims jwt.Claims) (string, error) {
	if err := m.EnsureKeyPair(); err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID

	signed, err := tok.SignedString(m.priv)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// NormalizePEM undoes the common ways PEM material gets mangled in env
// vars: CRLF line endings, literal "\n" escapes and bare carriage returns.
func NormalizePEM(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	return strings.TrimSpace(s) + "\n"
}

func parsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("PKCS#8 key is not RSA")
		}

		return rk, nil
	}

	k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return k, nil
}

func parsePublicKey(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	rk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}

	return rk, nil
}
