package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Number is a JSON value that may arrive as a number, a numeric string or null.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// UnmarshalJSON accepts 12, 12.5, "12", " 12.5 " and null. Unparsable
// strings leave the number invalid rather than failing the whole payload.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = Number{}

	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		*n = Num(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = Num(v)
	return nil
}

// MarshalJSON writes the value, or null when invalid.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// FortuneLine is the operator's margin rule for one resource and tier.
type FortuneLine struct {
	Slug          string `json:"slug"`
	Qty           string `json:"qty"`
	MarginType    string `json:"margin_type"`
	MarginValue   Number `json:"margin_value"`
	MedianPrice7d Number `json:"median_price_7d"`
}

// FortuneBook indexes fortune lines by normalized slug then tier.
type FortuneBook map[string]map[Tier]FortuneLine

// NewFortuneBook builds the lookup. Lines without slug or qty are ignored;
// later lines replace earlier ones for the same key.
func NewFortuneBook(lines []FortuneLine) FortuneBook {
	book := make(FortuneBook)
	for _, line := range lines {
		slug := normalizeSlug(line.Slug)
		qty := strings.TrimSpace(line.Qty)
		if slug == "" || qty == "" {
			continue
		}
		if book[slug] == nil {
			book[slug] = make(map[Tier]FortuneLine)
		}
		book[slug][Tier(qty)] = line
	}
	return book
}

// Lookup returns the rule for slug and tier.
func (b FortuneBook) Lookup(slug string, tier Tier) (FortuneLine, bool) {
	key := normalizeSlug(slug)
	if key == "" {
		return FortuneLine{}, false
	}
	line, ok := b[key][tier]
	return line, ok
}

func normalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
