// Package gate decides whether a sample's size makes it eligible for remote
// classification.
package gate

// Default inclusive bounds.
const (
	DefaultMinBytes int64 = 1 << 10  // 1 KiB
	DefaultMaxBytes int64 = 10 << 20 // 10 MiB
)

// Gate is an inclusive byte-size range.
type Gate struct {
	MinBytes int64
	MaxBytes int64
}

// New returns a Gate, substituting defaults for zero bounds.
func New(minBytes, maxBytes int64) Gate {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Gate{MinBytes: minBytes, MaxBytes: maxBytes}
}

// Allows reports whether size lies within [MinBytes, MaxBytes].
func (g Gate) Allows(size int64) bool {
	return size >= g.MinBytes && size <= g.MaxBytes
}
