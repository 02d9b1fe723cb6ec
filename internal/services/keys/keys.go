// Package keys issues and redeems order keys: short human-typeable codes that
// carry a duration class and an operation count.
package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ternarybob/entitle/internal/models"
)

const (
	// KeyLength is the exact length of a code, dashes included
	KeyLength = 17

	// MaxOperations is the largest count two hex digits can carry
	MaxOperations = 0xFF

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrInvalidKey is returned for any code that does not parse
var ErrInvalidKey = errors.New("invalid order key")

// Generate builds XXXXX-MMAAX-XXXXX where MM is the class in months and AA the operation count, both hex.
func Generate(class models.DurationClass, operations int) (string, error) {
	if !class.Valid() {
		return "", fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}
	if operations < 1 || operations > MaxOperations {
		return "", fmt.Errorf("%w: operations must be between 1 and %d, got %d", models.ErrInvalidParameters, MaxOperations, operations)
	}

	head, err := randomString(5)
	if err != nil {
		return "", err
	}
	mid, err := randomString(1)
	if err != nil {
		return "", err
	}
	tail, err := randomString(5)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%02X%02X%s-%s", head, class.Months(), operations, mid, tail), nil
}

// Validate checks the segment structure and decodes the class and operation count.
func Validate(code string) (models.DurationClass, int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != KeyLength {
		return 0, 0, fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidKey, KeyLength, len(code))
	}

	segments := strings.Split(code, "-")
	if len(segments) != 3 {
		return 0, 0, fmt.Errorf("%w: expected 3 segments", ErrInvalidKey)
	}
	for _, seg := range segments {
		if len(seg) != 5 {
			return 0, 0, fmt.Errorf("%w: segments must be 5 characters", ErrInvalidKey)
		}
	}

	months, err := strconv.ParseUint(segments[1][:2], 16, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad duration field", ErrInvalidKey)
	}
	ops, err := strconv.ParseUint(segments[1][2:4], 16, 8)
	if err != nil || ops == 0 {
		return 0, 0, fmt.Errorf("%w: bad operation field", ErrInvalidKey)
	}

	class := models.DurationClass(months)
	if !class.Valid() {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidKey, models.ErrInvalidDurationClass)
	}
	return class, int(ops), nil
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
