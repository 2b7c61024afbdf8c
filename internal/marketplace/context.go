package marketplace

import "image"

// Resource is one marketplace item to process.
type Resource struct {
	Slug     string `json:"slug"`
	Template string `json:"template_path"`
}

// ScanTarget pairs a tier with its quantity selector template.
type ScanTarget struct {
	Tier     Tier
	Template string
}

// PendingPurchase exists between a buy trigger and its resolution.
type PendingPurchase struct {
	Slug  string
	Tier  Tier
	Price int
	// Zone is the OCR rectangle the price was read from.
	Zone              image.Rectangle
	Rule              *FortuneLine
	ClickDone         bool
	StartKamas        *int
	Retries           int
	KamasReadAttempts int
	ConfirmAttempts   int
}

// Purchase is a confirmed buy waiting to be resold.
type Purchase struct {
	Slug     string
	Tier     Tier
	Price    int
	Rule     *FortuneLine
	Template string
}

// Sale is the resale in progress.
type Sale struct {
	Purchase Purchase

	SelAttempts      int
	UseAlternatives  bool
	SelectedSelTier  Tier
	SelectedSelBox   image.Rectangle
	SelectedSaleTier Tier

	SellAttempts  int
	FallbackClick *image.Point
	ForceTab      bool
	EntryDone     bool
}

// label is the quantity tier the sale is reported under.
func (s *Sale) label() Tier {
	switch {
	case s.SelectedSaleTier != "":
		return s.SelectedSaleTier
	case s.SelectedSelTier != "":
		return s.SelectedSelTier
	default:
		return s.Purchase.Tier
	}
}

// RunContext is the mutable state of one workflow run. It is owned by the
// FSM worker and needs no locking.
type RunContext struct {
	Resources []Resource
	Index     int

	Slug     string
	Template string
	Fortune  FortuneBook

	ResetScan bool
	Targets   []ScanTarget
	// Scanned holds the price, or Skipped, of every resolved tier. Absent
	// tiers have not been resolved yet.
	Scanned  map[Tier]int
	Attempts map[Tier]int

	Pending   *PendingPurchase
	Completed []Purchase
	Sale      *Sale

	Kamas     *int
	RightHalf image.Rectangle

	SkipSearchClick bool
}

func newRunContext(resources []Resource, lines []FortuneLine, rightHalf image.Rectangle) *RunContext {
	return &RunContext{
		Resources: resources,
		Fortune:   NewFortuneBook(lines),
		ResetScan: true,
		Scanned:   make(map[Tier]int),
		Attempts:  make(map[Tier]int),
		RightHalf: rightHalf,
	}
}

// enterResource loads the resource under the cursor and resets per-resource state.
func (rc *RunContext) enterResource() bool {
	if rc.Index >= len(rc.Resources) {
		return false
	}

	current := rc.Resources[rc.Index]
	rc.Slug = current.Slug
	rc.Template = current.Template
	rc.ResetScan = true
	rc.Pending = nil
	rc.Completed = nil
	rc.Sale = nil
	rc.SkipSearchClick = false
	return true
}

// advance moves the cursor and reports whether a resource remains.
func (rc *RunContext) advance() bool {
	if rc.Index < len(rc.Resources) {
		rc.Index++
	}
	return rc.Index < len(rc.Resources)
}

// ScanComplete reports whether every target tier has been priced or skipped.
func (rc *RunContext) ScanComplete() bool {
	for _, t := range rc.Targets {
		if _, ok := rc.Scanned[t.Tier]; !ok {
			return false
		}
	}
	return true
}

// nextSale starts the next queued resale if none is in progress.
func (rc *RunContext) nextSale() bool {
	if rc.Sale == nil && len(rc.Completed) > 0 {
		rc.Sale = &Sale{Purchase: rc.Completed[0]}
		rc.Completed = rc.Completed[1:]
	}
	return rc.Sale != nil
}

func (rc *RunContext) setKamas(v int) {
	rc.Kamas = &v
}
