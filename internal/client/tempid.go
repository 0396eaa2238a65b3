package client

import "math/rand"

// TempMessageID returns a temporary id for an optimistic message. Values are
// always negative non-integers in the open interval (-2, -1), so they can
// never collide with a store-assigned positive serial id no matter how many
// messages exist.
func TempMessageID() float64 {
	for {
		frac := rand.Float64()
		if frac == 0 {
			// -1 exactly would be an integer; draw again.
			continue
		}
		return -1 - frac
	}
}
