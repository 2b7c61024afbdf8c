package marketplace

// State names a workflow step. The values double as the login_state
// telemetry labels.
type State string

const (
	StateLaunch             State = "LAUNCH"
	StateAwaitLogin         State = "AWAIT_LOGIN"
	StateInGame             State = "IN_GAME"
	StateOpenMarket         State = "OPEN_MARKET"
	StateAwaitMarket        State = "AWAIT_MARKET"
	StateReadFunds          State = "READ_FUNDS"
	StateEnterResource      State = "ENTER_RESOURCE"
	StateSelectResource     State = "SELECT_RESOURCE"
	StateScanPrices         State = "SCAN_PRICES"
	StateBuyClick           State = "BUY_CLICK"
	StateVerifyBuy          State = "VERIFY_BUY"
	StateSellTab            State = "SELL_TAB"
	StateSellSelectResource State = "SELL_SELECT_RESOURCE"
	StateSellSelectQty      State = "SELL_SELECT_QTY"
	StateSellClickQty       State = "SELL_CLICK_QTY"
	StateSellEnterPrice     State = "SELL_ENTER_PRICE"
	StateSellReturn         State = "SELL_RETURN"
	StateSearchClick        State = "SEARCH_CLICK"
	StateEnd                State = "END"
	StateError              State = "ERROR"
)

// reportTemplateMissing is published when a resource has no usable template.
const reportTemplateMissing = "TEMPLATE_MISSING"

// Tier is a trade quantity label.
type Tier string

const (
	TierX1    Tier = "x1"
	TierX10   Tier = "x10"
	TierX100  Tier = "x100"
	TierX1000 Tier = "x1000"
)

// Tiers lists the marketplace quantity tiers in scan order.
var Tiers = []Tier{TierX1, TierX10, TierX100, TierX1000}

// Skipped marks a tier abandoned after exhausting its scan attempts.
const Skipped = -1

// transitions contains the permitted non-error transitions of the workflow.
var transitions = map[State][]State{
	StateLaunch:             {StateAwaitLogin},
	StateAwaitLogin:         {StateInGame},
	StateInGame:             {StateOpenMarket},
	StateOpenMarket:         {StateAwaitMarket},
	StateAwaitMarket:        {StateReadFunds},
	StateReadFunds:          {StateEnterResource},
	StateEnterResource:      {StateSelectResource, StateEnd},
	StateSelectResource:     {StateScanPrices},
	StateScanPrices:         {StateBuyClick, StateSellTab, StateSearchClick},
	StateBuyClick:           {StateVerifyBuy, StateScanPrices},
	StateVerifyBuy:          {StateBuyClick, StateScanPrices},
	StateSellTab:            {StateSellSelectResource, StateSearchClick},
	StateSellSelectResource: {StateSellSelectQty, StateSearchClick},
	StateSellSelectQty:      {StateSellClickQty, StateSellEnterPrice, StateSearchClick},
	StateSellClickQty:       {StateSellEnterPrice, StateSearchClick},
	StateSellEnterPrice:     {StateSellReturn, StateSearchClick},
	StateSellReturn:         {StateSellTab, StateSearchClick},
	StateSearchClick:        {StateEnterResource, StateEnd},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
func IsTransitionAllowed(from, to State) bool {
	if to == StateError {
		return true
	}

	allowed, ok := transitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
