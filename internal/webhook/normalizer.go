package webhook

import (
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
)

// Event is a verified provider notification with its canonical meaning.
type Event struct {
	payment.NativeEvent
	Canonical entity.CanonicalType
}

// Normalize maps a native event through the provider's taxonomy. Types the
// provider does not list become unmapped.
func Normalize(taxonomy map[string]entity.CanonicalType, native payment.NativeEvent) Event {
	canonical, ok := taxonomy[native.Type]
	if !ok {
		canonical = entity.EventUnmapped
	}
	return Event{NativeEvent: native, Canonical: canonical}
}
