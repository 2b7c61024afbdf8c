// Package telemetry encodes workflow events and fans them out to the
// realtime bus and secondary sinks.
package telemetry

import (
	"encoding/json"
	"time"
)

// Frame types emitted by the workflow.
const (
	TypeLoginState    = "login_state"
	TypePrice         = "hdv_price"
	TypeKamas         = "kamas_value"
	TypePurchaseEvent = "purchase_event"
	TypeSaleEvent     = "sale_event"
)

// Event is one frame on the realtime bus.
type Event struct {
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	State string `json:"state,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Publisher accepts events without blocking. Delivery is best-effort.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// PricePayload is the data of an hdv_price frame.
type PricePayload struct {
	Slug  string `json:"slug"`
	Qty   string `json:"qty"`
	Price int    `json:"price"`
}

// KamasPayload is the data of a kamas_value frame.
type KamasPayload struct {
	Amount int `json:"amount"`
}

// TradePayload is the data of purchase_event and sale_event frames.
type TradePayload struct {
	Resource      string  `json:"resource"`
	QuantityLabel string  `json:"quantity_label"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	Amount        int     `json:"amount"`
	Date          string  `json:"date"`
}

// LoginState reports the workflow state the agent just entered.
func LoginState(state string, at time.Time) Event {
	return Event{Type: TypeLoginState, TS: at.Unix(), State: state, Data: map[string]string{"state": state}}
}

// Price reports a marketplace price read.
func Price(slug, qty string, price int, at time.Time) Event {
	return Event{Type: TypePrice, TS: at.Unix(), Data: PricePayload{Slug: slug, Qty: qty, Price: price}}
}

// Kamas reports the current currency total.
func Kamas(amount int, at time.Time) Event {
	return Event{Type: TypeKamas, TS: at.Unix(), Data: KamasPayload{Amount: amount}}
}

// Purchase reports a confirmed purchase.
func Purchase(p TradePayload, at time.Time) Event {
	p.Date = isoDate(at)
	return Event{Type: TypePurchaseEvent, TS: at.Unix(), Data: p}
}

// Sale reports a submitted sale listing.
func Sale(p TradePayload, at time.Time) Event {
	p.Date = isoDate(at)
	return Event{Type: TypeSaleEvent, TS: at.Unix(), Data: p}
}

// Encode marshals ev as a JSON frame.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func isoDate(at time.Time) string {
	return at.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
