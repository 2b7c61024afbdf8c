package marketplace

import (
	"math"
	"strings"
)

// Margin types understood by PurchaseThreshold.
const (
	MarginPercent  = "percent"
	MarginAbsolute = "absolute"
)

// PurchaseThreshold returns the highest price worth buying at under line.
// Percent margins subtract margin% of the 7 day median; absolute margins are
// the ceiling itself. Negative thresholds clamp to zero. Unknown margin types
// or missing numbers yield no threshold.
func PurchaseThreshold(line FortuneLine) (int, bool) {
	if !line.MarginValue.Valid {
		return 0, false
	}
	margin := line.MarginValue.Value

	var threshold float64
	switch strings.ToLower(strings.TrimSpace(line.MarginType)) {
	case MarginPercent:
		if !line.MedianPrice7d.Valid {
			return 0, false
		}
		median := line.MedianPrice7d.Value
		threshold = median - median*margin/100.0
	case MarginAbsolute:
		threshold = margin
	default:
		return 0, false
	}

	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return 0, false
	}
	if threshold < 0 {
		threshold = 0
	}

	return int(threshold), true
}

// FortuneCap is the largest single purchase allowed for the given currency total.
func FortuneCap(kamas int, ratio float64) int {
	return max(0, int(float64(kamas)*ratio))
}

// Verdict explains a purchase decision.
type Verdict string

const (
	VerdictBuy          Verdict = "buy"
	VerdictNoRule       Verdict = "no_rule"
	VerdictNoThreshold  Verdict = "no_threshold"
	VerdictAbove        Verdict = "above_threshold"
	VerdictUnknownFunds Verdict = "unknown_funds"
	VerdictOverCap      Verdict = "over_fortune_cap"
)

// Decision is the outcome of evaluating an observed price.
type Decision struct {
	Verdict   Verdict
	Threshold int
	Cap       int
}

// Buy reports whether the price should be bought.
func (d Decision) Buy() bool {
	return d.Verdict == VerdictBuy
}

// Decide applies the margin rule and the fortune cap to an observed price.
func Decide(price int, line *FortuneLine, kamas *int, capRatio float64) Decision {
	if line == nil {
		return Decision{Verdict: VerdictNoRule}
	}

	threshold, ok := PurchaseThreshold(*line)
	if !ok {
		return Decision{Verdict: VerdictNoThreshold}
	}
	if price > threshold {
		return Decision{Verdict: VerdictAbove, Threshold: threshold}
	}

	if kamas == nil {
		return Decision{Verdict: VerdictUnknownFunds, Threshold: threshold}
	}

	limit := FortuneCap(*kamas, capRatio)
	if price > limit {
		return Decision{Verdict: VerdictOverCap, Threshold: threshold, Cap: limit}
	}

	return Decision{Verdict: VerdictBuy, Threshold: threshold, Cap: limit}
}

// SalePrice is the listing price for a purchase: the rounded median when
// known, else the purchase price, never negative.
func SalePrice(p Purchase) int {
	price := p.Price
	if p.Rule != nil && p.Rule.MedianPrice7d.Valid {
		price = int(math.Round(p.Rule.MedianPrice7d.Value))
	}
	return max(0, price)
}

// UnitPrice divides a total by the numeric quantity of label.
func UnitPrice(total int, label Tier) float64 {
	if q := ParseQuantity(string(label)); q > 0 {
		return float64(total) / float64(q)
	}
	return float64(total)
}
