// Package tiers defines the closed catalog of upload tiers.
//
// Six-month retention, roughly 10x markup on raw storage costs.
package tiers

import (
	"math"
	"time"
)

// Retention is how long an uploaded file stays publicly reachable.
const Retention = 180 * 24 * time.Hour

// Tier describes one purchasable upload slot size.
type Tier struct {
	Key      string
	Label    string
	MaxBytes int64
	PriceUSD float64
}

var catalog = []Tier{
	{Key: "10mb", Label: "10 MB", MaxBytes: 10 << 20, PriceUSD: 0.10},
	{Key: "100mb", Label: "100 MB", MaxBytes: 100 << 20, PriceUSD: 1.00},
	{Key: "1gb", Label: "1 GB", MaxBytes: 1 << 30, PriceUSD: 10.00},
}

// priceEpsilon tolerates decimal representation drift when matching
// externally-observed settlement amounts back to a tier.
const priceEpsilon = 0.001

// Get returns the tier for key, or false if the key is not in the catalog.
func Get(key string) (Tier, bool) {
	for _, t := range catalog {
		if t.Key == key {
			return t, true
		}
	}
	return Tier{}, false
}

// Keys returns all valid tier keys in catalog order.
func Keys() []string {
	keys := make([]string, len(catalog))
	for i, t := range catalog {
		keys[i] = t.Key
	}
	return keys
}

// Cheapest returns the lowest-priced tier, used as the default quote on
// discovery challenges.
func Cheapest() Tier {
	best := catalog[0]
	for _, t := range catalog[1:] {
		if t.PriceUSD < best.PriceUSD {
			best = t
		}
	}
	return best
}

// FromPrice recovers the tier whose price matches priceUSD within epsilon.
func FromPrice(priceUSD float64) (Tier, bool) {
	for _, t := range catalog {
		if math.Abs(t.PriceUSD-priceUSD) < priceEpsilon {
			return t, true
		}
	}
	return Tier{}, false
}
