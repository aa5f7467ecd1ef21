package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

const rankingKeyPrefix = "ranking:"

// RankingKey fingerprints everything a ranking depends on: the offers in
// order, the card snapshot in order and the perk min spend. Any change to
// those inputs yields a different key, so entries never need invalidating.
func RankingKey(offers []models.Offer, cards []models.UserCard, minSpend decimal.Decimal) (string, error) {
	d := xxhash.New()
	enc := json.NewEncoder(d)

	if err := enc.Encode(offers); err != nil {
		return "", fmt.Errorf("failed to fingerprint offers: %w", err)
	}
	if err := enc.Encode(cards); err != nil {
		return "", fmt.Errorf("failed to fingerprint cards: %w", err)
	}
	// Normalized so 100 and 100.00 share a key.
	if _, err := d.WriteString(minSpend.String()); err != nil {
		return "", fmt.Errorf("failed to fingerprint options: %w", err)
	}

	return fmt.Sprintf("%s%016x", rankingKeyPrefix, d.Sum64()), nil
}
