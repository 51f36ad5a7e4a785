package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2ID              = "argon2id"
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength         = 16
	minArgonKeyLen        = 16
)

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// verifyArgon2 checks password against a legacy argon2id PHC string.
func verifyArgon2(password, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return nil, ErrUnknownFormat
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	out := &phc{}
	var seen int
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid argon2 parameter entry")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return nil, errors.New("invalid argon2 parameter value")
		}
		switch key {
		case "m":
			if n < uint64(minMemoryKB) {
				return nil, errors.New("argon2 memory too low")
			}
			out.memory = uint32(n)
		case "t":
			out.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("argon2 parallelism out of range")
			}
			out.parallelism = uint8(n)
		default:
			return nil, errors.New("unsupported argon2 parameter")
		}
		seen++
	}
	if seen != 3 || out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return nil, errors.New("missing argon2 parameters")
	}

	if out.salt, err = base64.RawStdEncoding.Strict().DecodeString(strings.TrimRight(parts[4], "=")); err != nil || len(out.salt) < minSaltLength {
		return nil, errors.New("invalid argon2 salt")
	}
	if out.hash, err = base64.RawStdEncoding.Strict().DecodeString(strings.TrimRight(parts[5], "=")); err != nil || len(out.hash) < minArgonKeyLen {
		return nil, errors.New("invalid argon2 hash")
	}

	return out, nil
}
