package custody

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
)

const referencePrefix = "RD-"

// newReferenceGenerator returns a generator of short public deposit codes.
// The code doubles as the on-ramp order reference, so it stays URL safe.
func newReferenceGenerator() (func() string, error) {
	gen, err := nanoid.Standard(15)
	if err != nil {
		return nil, fmt.Errorf("init reference generator: %w", err)
	}
	return func() string { return referencePrefix + gen() }, nil
}
