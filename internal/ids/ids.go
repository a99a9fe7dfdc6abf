package ids

import "github.com/segmentio/ksuid"

// New returns a time-ordered, URL-safe identifier.
func New() string {
	return ksuid.New().String()
}

// NewWithPrefix returns an identifier carrying a short type prefix, e.g. "prm_2KJ...".
func NewWithPrefix(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + ksuid.New().String()
}
