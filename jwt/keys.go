package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// keyring holds keys parsed once at construction. sign is nil for a
// verify-only manager.
type keyring struct {
	method  jwt.SigningMethod
	kid     string
	sign    any
	verify  any
	retired map[string]any
}

func newKeyring(cfg Config) (*keyring, error) {
	kr := &keyring{kid: strings.TrimSpace(cfg.KeyID)}
	var decode func([]byte) (any, error)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
		kr.method = jwt.SigningMethodHS256
		kr.sign, kr.verify = cfg.PrivateKey, cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		kr.method = jwt.SigningMethodEdDSA
		decode = func(b []byte) (any, error) { return edPublicKey(b) }
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			kr.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			kr.verify = pub
		}
		if kr.verify == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a public key or verify keys")
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		kr.retired = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify keys contain an empty kid")
			}
			key, err := decode(raw)
			if err != nil {
				return nil, fmt.Errorf("verify key %q: %w", kid, err)
			}
			kr.retired[kid] = key
		}
		if kr.kid != "" {
			if _, ok := kr.retired[kr.kid]; !ok {
				return nil, fmt.Errorf("key id %q is not among the verify keys", kr.kid)
			}
		}
	}
	return kr, nil
}

// lookup picks the verification key for a token header. With a verify
// key set the kid decides; otherwise the configured key is used and a
// configured kid must match.
func (kr *keyring) lookup(t *jwt.Token) (any, error) {
	if t.Method.Alg() != kr.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if kr.retired != nil {
		key, ok := kr.retired[kid]
		if !ok {
			return nil, ErrUnknownKey
		}
		return key, nil
	}
	if kr.kid != "" && kid != kr.kid {
		return nil, ErrUnknownKey
	}
	if kr.verify == nil {
		return nil, ErrUnknownKey
	}
	return kr.verify, nil
}

func edPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: unexpected key type")
	}
	return key, nil
}

func edPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: unexpected key type")
	}
	return key, nil
}
