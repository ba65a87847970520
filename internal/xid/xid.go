package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier with a short type prefix, e.g. "sale-<uuid>".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
