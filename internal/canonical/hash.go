package canonical

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tracelock/tracelock/internal/ledgererr"
)

// HashLength is the length of a rendered digest: 64 lowercase hex
// characters.
const HashLength = 64

// Hash computes the SHA-256 digest of v's canonical form.
func Hash(v any) (string, error) {
	text, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashText(text), nil
}

// HashText digests already-canonicalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CheckFormat rejects hash strings of the wrong length or charset. A
// malformed hash is a format error, distinct from a verification
// mismatch.
func CheckFormat(hash string) error {
	if len(hash) != HashLength {
		return ledgererr.Format(ledgererr.CodeMalformedHash,
			"hash must be %d characters, got %d", HashLength, len(hash))
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ledgererr.Format(ledgererr.CodeMalformedHash,
				"hash contains non-lowercase-hex character %q at position %d", c, i)
		}
	}
	return nil
}

// Verify recomputes v's hash and compares it to expected. A malformed
// expected hash fails with a format error before any comparison.
func Verify(v any, expected string) (bool, error) {
	if err := CheckFormat(expected); err != nil {
		return false, err
	}
	actual, err := Hash(v)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
