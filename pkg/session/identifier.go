package session

import (
	cryptorand "crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	sessionNameSanitizer = regexp.MustCompile(`[^a-z0-9\-]`)

	entropyMu   sync.Mutex
	ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)
)

// NewSessionID returns a sortable, unique session id. A non-empty instance
// name becomes a readable prefix, so logs for "alice" read alice-01j....
func NewSessionID(instance string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	entropyMu.Unlock()

	base := strings.ToLower(strings.TrimSpace(instance))
	base = strings.ReplaceAll(base, " ", "-")
	base = strings.Trim(sessionNameSanitizer.ReplaceAllString(base, "-"), "-")
	if base == "" {
		return strings.ToLower(id.String())
	}
	return fmt.Sprintf("%s-%s", base, strings.ToLower(id.String()))
}
