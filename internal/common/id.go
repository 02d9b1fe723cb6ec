package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewOrderID generates a short order correlation id: the first 8 hex digits of a UUID, upper-cased
func NewOrderID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
