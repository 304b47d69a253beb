package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/normalize"
)

// Hash computes the fuzzy-matching key for a listing from its normalized
// (year, make, model, rounded price, normalized location). Postings of the
// same vehicle cross-posted to another source or regional mirror land on
// the same hash even though their native ids differ. Absent fields
// contribute an empty slot so the key is stable across partial records.
func Hash(l model.VehicleListing) string {
	parts := []string{
		intSlot(l.Year),
		strSlot(l.Make),
		strSlot(l.Model),
		priceSlot(l.Price),
		locSlot(l.Location),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Matchable reports whether a listing carries enough identity to take part
// in fuzzy matching. Listings without a recognized make and model are only
// ever matched by their exact source id.
func Matchable(l model.VehicleListing) bool {
	return l.Year != nil && l.Make != nil && l.Model != nil
}

func intSlot(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func strSlot(v *string) string {
	if v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*v))
}

// priceSlot rounds to the nearest 100 so minor repricing across mirrors of
// the same posting still collides.
func priceSlot(v *int) string {
	if v == nil {
		return ""
	}
	rounded := ((*v + 50) / 100) * 100
	return fmt.Sprintf("%d", rounded)
}

func locSlot(v *string) string {
	if v == nil {
		return ""
	}
	return normalize.NormalizeLocation(*v)
}
