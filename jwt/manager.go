package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes session tokens from challenge tokens so one can never
// be replayed as the other.
type Kind string

const (
	// KindSession names an active session registry entry.
	KindSession Kind = "session"
	// KindChallenge names a pending MFA challenge.
	KindChallenge Kind = "mfa"
)

var (
	// ErrKindMismatch is returned when a token of the wrong kind is presented.
	ErrKindMismatch = errors.New("token kind mismatch")
	// ErrUnknownKey is returned when no configured key matches the kid header.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrIssuedInFuture is returned for an iat beyond Config.MaxFutureIAT.
	ErrIssuedInFuture = errors.New("token issued in the future")
	// ErrNoSigningKey is returned by Issue on a verify-only manager.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Config holds signing keys and validation rules.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the Ed25519 private key (raw or PEM) or the HS256 secret.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// MaxFutureIAT bounds clock skew on iat. Zero means ten minutes.
	MaxFutureIAT time.Duration
	KeyID        string
	// VerifyKeys lets tokens signed with retired keys verify during
	// rotation. Keys are looked up by the kid header.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// Claims identifies a session or challenge.
type Claims struct {
	Kind Kind   `json:"knd"`
	UID  string `json:"uid"`
	TID  string `json:"tid,omitempty"`
	SID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and parses session and challenge tokens.
type Manager struct {
	issuer    string
	audience  string
	maxFuture time.Duration
	now       func() time.Time
	keys      *keyring
	parser    *jwt.Parser
}

// NewManager validates cfg, parses its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 5*time.Minute {
		return nil, errors.New("leeway must be between 0 and 5m")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("max future iat must be between 0 and 24h")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	keys, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		maxFuture: cfg.MaxFutureIAT,
		now:       cfg.Now,
		keys:      keys,
		parser:    jwt.NewParser(opts...),
	}, nil
}

// Issue signs a token of kind for the given ids, valid for ttl. A ttl of
// zero issues a token without an expiry; the registry enforces lifetime.
func (m *Manager) Issue(kind Kind, uid, tid, sid string, ttl time.Duration) (string, error) {
	if kind == "" || sid == "" {
		return "", errors.New("token kind and sid are required")
	}
	if m.keys.sign == nil {
		return "", ErrNoSigningKey
	}
	now := m.now()
	claims := Claims{Kind: kind, UID: uid, TID: tid, SID: sid}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.Issuer = m.issuer
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(m.keys.method, claims)
	if m.keys.kid != "" {
		token.Header["kid"] = m.keys.kid
	}
	return token.SignedString(m.keys.sign)
}

// Parse verifies raw and checks that it is of the expected kind.
func (m *Manager) Parse(raw string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(raw, claims, m.keys.lookup)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.maxFuture)) {
		return nil, ErrIssuedInFuture
	}
	if claims.Kind != kind {
		return nil, ErrKindMismatch
	}
	return claims, nil
}
