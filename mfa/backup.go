package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// DefaultBackupCodeCount is the number of codes issued per token.
	DefaultBackupCodeCount = 10
	// DefaultBackupCodeLength is the number of characters per code.
	DefaultBackupCodeLength = 8
	// LowBackupCodeThreshold triggers the "running low" warning.
	LowBackupCodeThreshold = 2
)

// BackupCodeHash is the stored form of a backup code.
type BackupCodeHash [32]byte

// GeneratedBackupCodes pairs display codes with their stored hashes. The
// display codes must be shown once and never persisted.
type GeneratedBackupCodes struct {
	Codes  []string
	Hashes []BackupCodeHash
}

// GenerateBackupCodes creates count codes of length characters for userID.
// randomIndex may be nil to use crypto/rand.
func GenerateBackupCodes(userID string, count, length int, randomIndex func(int) (int, error)) (GeneratedBackupCodes, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}
	if length <= 0 {
		length = DefaultBackupCodeLength
	}
	out := GeneratedBackupCodes{
		Codes:  make([]string, 0, count),
		Hashes: make([]BackupCodeHash, 0, count),
	}
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return GeneratedBackupCodes{}, err
		}
		out.Codes = append(out.Codes, FormatBackupCode(raw))
		out.Hashes = append(out.Hashes, HashBackupCode(userID, raw))
	}
	return out, nil
}

// NewBackupCode returns length random characters from BackupCodeAlphabet.
func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves, XXXX-XXXX.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases and strips separators and whitespace.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode binds the canonical code to its owner so identical codes of
// two users never share a hash.
func HashBackupCode(userID, code string) BackupCodeHash {
	canonical := CanonicalizeBackupCode(code)
	data := make([]byte, 0, len(userID)+1+len(canonical))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return sha256.Sum256(data)
}

// MatchBackupCode compares code against every candidate in constant time per
// candidate and without an early exit. It returns the index of the match.
func MatchBackupCode(userID, code string, candidates []BackupCodeHash) (int, bool) {
	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		return -1, false
	}
	want := HashBackupCode(userID, canonical)

	match := -1
	for i := range candidates {
		if subtle.ConstantTimeCompare(want[:], candidates[i][:]) == 1 && match < 0 {
			match = i
		}
	}
	return match, match >= 0
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
