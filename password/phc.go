package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

var errMalformedPHC = errors.New("malformed argon2id hash")

// phc is a decoded $argon2id$ string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.memory,
		p.time,
		p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.hash),
	)
}

func parsePHC(encoded string) (phc, error) {
	var p phc
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return p, errMalformedPHC
	}
	if fields[1] != algorithmID {
		return p, fmt.Errorf("%w: %q", ErrUnsupportedHash, fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedHash, fields[2])
	}
	if err := p.parseParams(fields[3]); err != nil {
		return p, err
	}

	var err error
	if p.salt, err = decodeBase64(fields[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return p, fmt.Errorf("%w: salt", errMalformedPHC)
	}
	if p.hash, err = decodeBase64(fields[5]); err != nil || len(p.hash) == 0 {
		return p, fmt.Errorf("%w: digest", errMalformedPHC)
	}
	return p, nil
}

// parseParams reads "m=..,t=..,p=..". Each key must appear exactly once and
// meet the configured minimum.
func (p *phc) parseParams(s string) error {
	seen := map[string]bool{}
	for _, pair := range strings.Split(s, ",") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[key] {
			return fmt.Errorf("%w: parameters %q", errMalformedPHC, s)
		}
		seen[key] = true

		switch key {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return fmt.Errorf("%w: memory %q", errMalformedPHC, raw)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return fmt.Errorf("%w: time %q", errMalformedPHC, raw)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return fmt.Errorf("%w: parallelism %q", errMalformedPHC, raw)
			}
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: parameter %q", errMalformedPHC, key)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: parameters %q", errMalformedPHC, s)
	}
	return nil
}
