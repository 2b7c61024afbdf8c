package marketplace

import (
	"fmt"
	"time"

	"github.com/Proton-105/protrader-agent/internal/vision"
	"github.com/Proton-105/protrader-agent/pkg/config"
)

// Template configuration keys.
const (
	keyPlay       = "btn_jouer"
	keyInGame     = "est_en_jeu"
	keyOpenMarket = "ouvrir_hdv"
	keyMarketOpen = "attente_hdv"
	keySearch     = "recherche"
	keyKamas      = "kamas"
	keyBuyTab     = "onglet_achat"
	keySellTab    = "onglet_vente"
	keyConfirmBuy = "confirmer_achat"

	prefixQty        = "qte"
	prefixSellSelect = "sel_vente"
	prefixSellQty    = "vente"
)

// Templates holds resolved template paths.
type Templates struct {
	Play       string
	InGame     string
	OpenMarket string
	MarketOpen string
	Search     string
	Kamas      string
	BuyTab     string
	SellTab    string
	// ConfirmBuy is optional. Without it purchases are never confirmed.
	ConfirmBuy string

	Qty        map[Tier]string
	SellSelect map[Tier]string
	SellQty    map[Tier]string
}

// TemplatesFromConfig resolves every template key against the base directory.
// Required keys that are missing produce an error naming them.
func TemplatesFromConfig(cfg config.MarketplaceConfig) (Templates, error) {
	var missing []string
	need := func(key string) string {
		p := cfg.TemplatePath(key)
		if p == "" {
			missing = append(missing, key)
		}
		return p
	}

	t := Templates{
		Play:       need(keyPlay),
		InGame:     need(keyInGame),
		OpenMarket: need(keyOpenMarket),
		MarketOpen: need(keyMarketOpen),
		Search:     need(keySearch),
		Kamas:      need(keyKamas),
		BuyTab:     need(keyBuyTab),
		SellTab:    need(keySellTab),
		ConfirmBuy: cfg.TemplatePath(keyConfirmBuy),
		Qty:        make(map[Tier]string, len(Tiers)),
		SellSelect: make(map[Tier]string, len(Tiers)),
		SellQty:    make(map[Tier]string, len(Tiers)),
	}

	for _, tier := range Tiers {
		t.Qty[tier] = need(prefixQty + "_" + string(tier))
	}
	for _, label := range cfg.SaleQtyOrder {
		tier := Tier(label)
		t.SellSelect[tier] = need(prefixSellSelect + "_" + label)
		t.SellQty[tier] = need(prefixSellQty + "_" + label)
	}

	if len(missing) > 0 {
		return Templates{}, fmt.Errorf("missing templates: %v", missing)
	}

	return t, nil
}

// Options tunes the workflow.
type Options struct {
	Templates    Templates
	SaleQtyOrder []Tier

	TickHz     float64
	MaxRuntime time.Duration
	// SettleDelay is the pause between spotting a control and clicking it.
	SettleDelay time.Duration
	// TiersPerTick bounds how many unresolved tiers one scan tick processes.
	// Zero processes all of them.
	TiersPerTick int

	ScanMaxAttempts       int
	BuyClickOffset        int
	SellClickMaxAttempts  int
	SellSelectMaxAttempts int
	SellFallbackRatio     float64
	SellFallbackOffset    int
	PurchaseMaxRetries    int
	KamasCheckMaxAttempts int
	// ConfirmMaxAttempts bounds the ticks spent waiting for the purchase confirmation popup.
	ConfirmMaxAttempts int
	FortuneCapRatio    float64

	ResourceThreshold float64
	ResourceScales    vision.ScaleRange

	LaunchTimeout time.Duration
	LoginTimeout  time.Duration
	MarketTimeout time.Duration
	// VerifyTimeout abandons a purchase whose verification outlives it. Zero disables it.
	VerifyTimeout time.Duration

	PowerOffOnEnd bool
}

// DefaultOptions returns the stock tuning without templates.
func DefaultOptions() Options {
	return Options{
		SaleQtyOrder:          append([]Tier(nil), Tiers...),
		TickHz:                2,
		SettleDelay:           time.Second,
		TiersPerTick:          1,
		ScanMaxAttempts:       5,
		BuyClickOffset:        100,
		SellClickMaxAttempts:  6,
		SellSelectMaxAttempts: 3,
		SellFallbackRatio:     0.28,
		SellFallbackOffset:    240,
		PurchaseMaxRetries:    5,
		KamasCheckMaxAttempts: 10,
		ConfirmMaxAttempts:    10,
		FortuneCapRatio:       0.10,
		ResourceThreshold:     0.67,
		ResourceScales:        vision.ScaleRange{Start: 0.58, End: 1.3, Step: 1.1},
	}
}

// OptionsFromConfig maps the configuration sections onto workflow options.
func OptionsFromConfig(cfg config.MarketplaceConfig, client config.ClientConfig) (Options, error) {
	templates, err := TemplatesFromConfig(cfg)
	if err != nil {
		return Options{}, err
	}

	opts := DefaultOptions()
	opts.Templates = templates
	opts.SaleQtyOrder = make([]Tier, 0, len(cfg.SaleQtyOrder))
	for _, label := range cfg.SaleQtyOrder {
		opts.SaleQtyOrder = append(opts.SaleQtyOrder, Tier(label))
	}

	opts.TickHz = cfg.TickHz
	opts.MaxRuntime = cfg.MaxRuntime
	opts.SettleDelay = cfg.SettleDelay
	opts.TiersPerTick = cfg.TiersPerTick
	opts.ScanMaxAttempts = cfg.ScanMaxAttemptsPerQty
	opts.BuyClickOffset = cfg.BuyClickOffsetPx
	opts.SellClickMaxAttempts = cfg.SellClickMaxAttempts
	opts.SellSelectMaxAttempts = cfg.SellSelectMaxAttempts
	opts.SellFallbackRatio = cfg.SellFallbackRegionRatio
	opts.SellFallbackOffset = cfg.SellFallbackOffsetPx
	opts.PurchaseMaxRetries = cfg.PurchaseMaxRetries
	opts.KamasCheckMaxAttempts = cfg.KamasCheckMaxAttempts
	opts.ConfirmMaxAttempts = cfg.ConfirmMaxAttempts
	opts.FortuneCapRatio = cfg.FortuneCapRatio
	opts.ResourceThreshold = cfg.ResourceMatchThreshold
	opts.LaunchTimeout = cfg.LaunchTimeout
	opts.LoginTimeout = cfg.LoginTimeout
	opts.MarketTimeout = cfg.MarketTimeout
	opts.VerifyTimeout = cfg.VerifyTimeout
	opts.PowerOffOnEnd = client.PowerOffOnEnd

	return opts, nil
}
