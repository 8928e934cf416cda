// Package idgen produces the identifiers used across applyflow records.
//
// Every record stream (page contexts, navigation events, error records,
// fill records) gets a type-scoped prefix so a bare ID in a log line or an
// ErrorRecord reference says what it points at.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so append-only streams stay ordered by ID.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Short returns a Generator of base-36 IDs of the given length. Used for
// per-job page context IDs, which only need to be unique inside one arena.
func Short(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends a fixed prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("prefix1", "prefix2", ...).
// Not safe for concurrent use; meant for tests and replay tooling.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// Default is the module default: UUIDv7.
var Default Generator = UUIDv7()

// Record-type generators.
var (
	Context    = Prefixed("ctx_", Short(10))
	Navigation = Prefixed("nav_", Default)
	Error      = Prefixed("err_", Default)
	Fill       = Prefixed("fil_", Default)
	Job        = Prefixed("job_", Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string (with or without a record prefix) and
// returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	if len(s) > 4 && s[3] == '_' {
		raw = s[4:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
