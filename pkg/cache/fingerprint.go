package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexus-agent/nexus/pkg/models"
)

// NormalizeText trims text and collapses internal whitespace runs to a
// single space. Case is preserved.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint computes the SHA-256 cache key of a request's normalized
// text, its parameters, any pinned backend and the category it was routed
// under. Parameters that cannot be JSON-encoded (NaN, unsupported Extra
// values) are an error.
func Fingerprint(req models.Request, cat models.Category) (string, error) {
	// encoding/json sorts map keys, so Extra hashes the same regardless of
	// insertion order.
	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return "", fmt.Errorf("encode parameters: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(cat))
	h.Write([]byte{0})
	h.Write([]byte(req.Backend))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(req.Text)))
	h.Write([]byte{0})
	h.Write(params)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
