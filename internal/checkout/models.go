package checkout

import (
	"bytes"
	"encoding/json"
	"time"
)

// Status is the full protocol vocabulary for a session's lifecycle. This
// engine only ever produces ready_for_payment, completed and canceled; the
// rest are declared for wire compatibility with richer implementations.
type Status string

const (
	StatusIncomplete             Status = "incomplete"
	StatusNotReadyForPayment     Status = "not_ready_for_payment"
	StatusReadyForPayment        Status = "ready_for_payment"
	StatusRequiresEscalation     Status = "requires_escalation"
	StatusAuthenticationRequired Status = "authentication_required"
	StatusPendingApproval        Status = "pending_approval"
	StatusCompleteInProgress     Status = "complete_in_progress"
	StatusInProgress             Status = "in_progress"
	StatusCompleted              Status = "completed"
	StatusCanceled               Status = "canceled"
	StatusExpired                Status = "expired"
)

// TotalType tags one entry of a totals breakdown.
type TotalType string

const (
	TotalTypeItemsBaseAmount TotalType = "items_base_amount"
	TotalTypeSubtotal        TotalType = "subtotal"
	TotalTypeTax             TotalType = "tax"
	TotalTypeFulfillment     TotalType = "fulfillment"
	TotalTypeTotal           TotalType = "total"
)

// Total is a (type, human label, integer minor-unit amount) triple.
type Total struct {
	Type        TotalType `json:"type"`
	DisplayText string    `json:"display_text"`
	Amount      int64     `json:"amount"`
}

// LineItem is derived from an input item reference. Its id is a stable
// sequence number within the session.
type LineItem struct {
	ID          string  `json:"id"`
	ItemID      string  `json:"item_id"`
	Quantity    int     `json:"quantity"`
	DisplayName *string `json:"display_name,omitempty"`
	UnitAmount  int64   `json:"unit_amount"`
	Totals      []Total `json:"totals"`
}

// FulfillmentOption is one entry of the per-session shipping catalog.
type FulfillmentOption struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle,omitempty"`
	Carrier  string  `json:"carrier,omitempty"`
	Totals   []Total `json:"totals"`
}

// Cost returns the option's flat charge.
func (o FulfillmentOption) Cost() int64 {
	for _, total := range o.Totals {
		if total.Type == TotalTypeTotal {
			return total.Amount
		}
	}
	return 0
}

// SelectedFulfillmentOption records the buyer's choice for a set of line items.
type SelectedFulfillmentOption struct {
	OptionID    string   `json:"option_id"`
	LineItemIDs []string `json:"line_item_ids,omitempty"`
}

type MessageType string

const (
	MessageTypeInfo  MessageType = "info"
	MessageTypeError MessageType = "error"
)

type Message struct {
	Type        MessageType `json:"type"`
	ContentType string      `json:"content_type"`
	Content     string      `json:"content"`
	Param       string      `json:"param,omitempty"`
}

type LinkType string

const (
	LinkTypeTermsOfUse    LinkType = "terms_of_use"
	LinkTypePrivacyPolicy LinkType = "privacy_policy"
)

type Link struct {
	Type LinkType `json:"type"`
	URL  string   `json:"url"`
}

// Order is embedded in a session once complete succeeds.
type Order struct {
	ID                string `json:"id"`
	CheckoutSessionID string `json:"checkout_session_id"`
	PermalinkURL      string `json:"permalink_url"`
}

// Session is the central entity. The dynamic bags (capabilities, buyer,
// metadata, fulfillment_details) are stored as raw JSON and never interpreted
// beyond pass-through, which also preserves the client's key order.
type Session struct {
	ID                         string                      `json:"id"`
	ProtocolVersion            string                      `json:"protocol_version"`
	Capabilities               json.RawMessage             `json:"capabilities"`
	Buyer                      json.RawMessage             `json:"buyer,omitempty"`
	Status                     Status                      `json:"status"`
	Currency                   string                      `json:"currency"`
	LineItems                  []LineItem                  `json:"line_items"`
	FulfillmentDetails         json.RawMessage             `json:"fulfillment_details,omitempty"`
	FulfillmentOptions         []FulfillmentOption         `json:"fulfillment_options"`
	SelectedFulfillmentOptions []SelectedFulfillmentOption `json:"selected_fulfillment_options,omitempty"`
	Totals                     []Total                     `json:"totals"`
	Messages                   []Message                   `json:"messages"`
	Links                      []Link                      `json:"links"`
	Metadata                   json.RawMessage             `json:"metadata,omitempty"`
	CreatedAt                  time.Time                   `json:"created_at"`
	UpdatedAt                  time.Time                   `json:"updated_at"`
	Order                      *Order                      `json:"order,omitempty"`
}

// Clone deep-copies the session so callers can never mutate stored state
// behind the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Capabilities = cloneRaw(s.Capabilities)
	clone.Buyer = cloneRaw(s.Buyer)
	clone.FulfillmentDetails = cloneRaw(s.FulfillmentDetails)
	clone.Metadata = cloneRaw(s.Metadata)
	clone.LineItems = cloneLineItems(s.LineItems)
	clone.FulfillmentOptions = cloneFulfillmentOptions(s.FulfillmentOptions)
	clone.SelectedFulfillmentOptions = cloneSelectedOptions(s.SelectedFulfillmentOptions)
	clone.Totals = append([]Total(nil), s.Totals...)
	clone.Messages = append([]Message(nil), s.Messages...)
	clone.Links = append([]Link(nil), s.Links...)
	if s.Order != nil {
		order := *s.Order
		clone.Order = &order
	}
	return &clone
}

// touch bumps updated_at, keeping it strictly increasing even under a coarse
// clock.
func (s *Session) touch(now time.Time) {
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneLineItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = item
		out[i].Totals = append([]Total(nil), item.Totals...)
		if item.DisplayName != nil {
			name := *item.DisplayName
			out[i].DisplayName = &name
		}
	}
	return out
}

func cloneFulfillmentOptions(options []FulfillmentOption) []FulfillmentOption {
	if options == nil {
		return nil
	}
	out := make([]FulfillmentOption, len(options))
	for i, option := range options {
		out[i] = option
		out[i].Totals = append([]Total(nil), option.Totals...)
	}
	return out
}

func cloneSelectedOptions(selected []SelectedFulfillmentOption) []SelectedFulfillmentOption {
	if selected == nil {
		return nil
	}
	out := make([]SelectedFulfillmentOption, len(selected))
	for i, choice := range selected {
		out[i] = choice
		out[i].LineItemIDs = append([]string(nil), choice.LineItemIDs...)
	}
	return out
}

// bagProvided reports whether a dynamic JSON bag carries a value. JSON null
// counts as absent, matching partial-update semantics.
func bagProvided(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
