package mfa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrTOTPConfig is returned for an unusable TOTP configuration.
var ErrTOTPConfig = errors.New("invalid totp configuration")

// TOTPConfig controls secret generation and verification.
type TOTPConfig struct {
	Issuer     string
	Digits     int
	Period     uint
	Skew       uint
	SecretSize uint
}

// DefaultTOTPConfig returns RFC 6238 defaults with a one-step window.
func DefaultTOTPConfig(issuer string) TOTPConfig {
	return TOTPConfig{
		Issuer:     issuer,
		Digits:     6,
		Period:     30,
		Skew:       1,
		SecretSize: 20,
	}
}

// TOTP generates and verifies time-based one-time passwords.
type TOTP struct {
	cfg    TOTPConfig
	digits otp.Digits
}

// NewTOTP validates cfg and returns a TOTP helper.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrTOTPConfig)
	}
	var digits otp.Digits
	switch cfg.Digits {
	case 6:
		digits = otp.DigitsSix
	case 8:
		digits = otp.DigitsEight
	default:
		return nil, fmt.Errorf("%w: digits must be 6 or 8", ErrTOTPConfig)
	}
	if cfg.Period < 15 {
		return nil, fmt.Errorf("%w: period must be >= 15 seconds", ErrTOTPConfig)
	}
	if cfg.SecretSize < 16 {
		return nil, fmt.Errorf("%w: secret size must be >= 16 bytes", ErrTOTPConfig)
	}
	return &TOTP{cfg: cfg, digits: digits}, nil
}

// Enrollment is a freshly generated TOTP secret.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// Generate creates a new secret for accountName (usually the e-mail).
func (t *TOTP) Generate(accountName string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: accountName,
		Period:      t.cfg.Period,
		SecretSize:  t.cfg.SecretSize,
		Digits:      t.digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp key: %w", err)
	}
	return Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// Validate checks code against secret at time now, accepting the configured
// number of steps on either side.
func (t *TOTP) Validate(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(t.digits) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, t.opts())
	return err == nil && ok
}

// Code computes the code for secret at now.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now, t.opts())
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.cfg.Period,
		Skew:      t.cfg.Skew,
		Digits:    t.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}
