package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
)

// CreateRequest is the payload for POST /checkout_sessions.
type CreateRequest struct {
	Capabilities       json.RawMessage `json:"capabilities" validate:"required"`
	Currency           string          `json:"currency" validate:"required"`
	LineItems          []LineItemInput `json:"line_items" validate:"required,min=1,dive"`
	Buyer              json.RawMessage `json:"buyer,omitempty"`
	FulfillmentDetails json.RawMessage `json:"fulfillment_details,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
}

// LineItemInput references an external item. Quantity is a pointer so an
// absent value can default to 1 while an explicit 0 is rejected.
type LineItemInput struct {
	ItemID      string `json:"item_id" validate:"required"`
	Quantity    *int   `json:"quantity,omitempty" validate:"omitempty,min=1"`
	UnitAmount  *int64 `json:"unit_amount,omitempty" validate:"omitempty,min=0"`
	DisplayName string `json:"display_name,omitempty"`
}

// UpdateRequest carries partial-update semantics: provided fields replace the
// prior value wholesale, absent fields are retained.
type UpdateRequest struct {
	Buyer                      json.RawMessage             `json:"buyer,omitempty"`
	FulfillmentDetails         json.RawMessage             `json:"fulfillment_details,omitempty"`
	Metadata                   json.RawMessage             `json:"metadata,omitempty"`
	LineItems                  []LineItemInput             `json:"line_items,omitempty" validate:"omitempty,min=1,dive"`
	SelectedFulfillmentOptions []SelectedFulfillmentOption `json:"selected_fulfillment_options,omitempty"`
}

// CompleteRequest is the payload for POST /checkout_sessions/{id}/complete.
type CompleteRequest struct {
	Buyer       json.RawMessage `json:"buyer,omitempty"`
	PaymentData *PaymentData    `json:"payment_data" validate:"required"`
}

// PaymentData must carry either (handler_id and a credential token) or a
// purchase order number.
type PaymentData struct {
	HandlerID            string          `json:"handler_id,omitempty"`
	Token                string          `json:"token,omitempty"`
	PurchaseOrderNumber  string          `json:"purchase_order_number,omitempty"`
	AuthenticationResult json.RawMessage `json:"authentication_result,omitempty"`
}

// Service owns checkout session state and enforces its transition rules.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Session, error)
	Complete(ctx context.Context, id string, req CompleteRequest, origin string) (*Session, error)
	Cancel(ctx context.Context, id string) (*Session, error)
}

// ServiceParams wires the engine's collaborators from the composition root.
type ServiceParams struct {
	Store           *Store
	TaxRate         decimal.Decimal
	ProtocolVersion string
	BaseURL         string
	Now             func() time.Time
}

type service struct {
	store           *Store
	calc            Calculator
	protocolVersion string
	baseURL         string
	now             func() time.Time
}

// NewService builds the lifecycle engine backed by the provided store.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("session store required")
	}
	if params.ProtocolVersion == "" {
		return nil, fmt.Errorf("protocol version required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		store:           params.Store,
		calc:            NewCalculator(params.TaxRate),
		protocolVersion: params.ProtocolVersion,
		baseURL:         strings.TrimRight(params.BaseURL, "/"),
		now:             now,
	}, nil
}

// Token patterns driving the simulated payment outcome.
var (
	requires3DSPattern = regexp.MustCompile(`(?i)(requires3ds|3ds_required)`)
	declinedPattern    = regexp.MustCompile(`(?i)(decline|fail|insufficient)`)
)

func (s *service) Create(_ context.Context, req CreateRequest) (*Session, error) {
	if !bagProvided(req.Capabilities) {
		return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "capabilities is required").WithParam("$.capabilities")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "currency is required").WithParam("$.currency")
	}
	if len(req.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "line_items is required").WithParam("$.line_items")
	}
	lineItems, err := s.buildLineItems(req.LineItems)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	catalog := fulfillmentCatalog()
	selected := []SelectedFulfillmentOption{{
		OptionID:    catalog[0].ID,
		LineItemIDs: lineItemIDs(lineItems),
	}}

	session := &Session{
		ID:                         "cs_" + uuid.NewString(),
		ProtocolVersion:            s.protocolVersion,
		Capabilities:               cloneRaw(req.Capabilities),
		Buyer:                      cloneRaw(req.Buyer),
		Status:                     StatusReadyForPayment,
		Currency:                   strings.ToLower(strings.TrimSpace(req.Currency)),
		LineItems:                  lineItems,
		FulfillmentDetails:         cloneRaw(req.FulfillmentDetails),
		FulfillmentOptions:         catalog,
		SelectedFulfillmentOptions: selected,
		Totals:                     s.calc.CartTotals(lineItems, catalog[0].Cost()),
		Messages:                   []Message{},
		Links: []Link{{
			Type: LinkTypeTermsOfUse,
			URL:  s.baseURL + "/legal/terms",
		}},
		Metadata:  cloneRaw(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.store.Put(session)
	return session, nil
}

func (s *service) Get(_ context.Context, id string) (*Session, error) {
	session, ok := s.store.Get(id)
	if !ok {
		return nil, notFound()
	}
	return session, nil
}

func (s *service) Update(_ context.Context, id string, req UpdateRequest) (*Session, error) {
	var lineItems []LineItem
	if req.LineItems != nil {
		// An explicit empty list would leave the session without items, a
		// state create can never produce.
		if len(req.LineItems) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "line_items must not be empty").WithParam("$.line_items")
		}
		var err error
		if lineItems, err = s.buildLineItems(req.LineItems); err != nil {
			return nil, err
		}
	}

	session, found, err := s.store.Mutate(id, func(draft *Session) error {
		// Validate everything before applying anything, so a rejected
		// update never leaves a partially mutated session behind.
		if len(req.SelectedFulfillmentOptions) > 0 {
			for i, choice := range req.SelectedFulfillmentOptions {
				if !optionExists(draft.FulfillmentOptions, choice.OptionID) {
					return pkgerrors.New(
						pkgerrors.CodeInvalidFulfillmentOption,
						fmt.Sprintf("unknown fulfillment option %q", choice.OptionID),
					).WithParam(fmt.Sprintf("$.selected_fulfillment_options[%d].option_id", i))
				}
			}
		}

		if bagProvided(req.Buyer) {
			draft.Buyer = cloneRaw(req.Buyer)
		}
		if bagProvided(req.FulfillmentDetails) {
			draft.FulfillmentDetails = cloneRaw(req.FulfillmentDetails)
		}
		if bagProvided(req.Metadata) {
			draft.Metadata = cloneRaw(req.Metadata)
		}
		if req.LineItems != nil {
			draft.LineItems = lineItems
		}
		if len(req.SelectedFulfillmentOptions) > 0 {
			draft.SelectedFulfillmentOptions = cloneSelectedOptions(req.SelectedFulfillmentOptions)
		}

		draft.Totals = s.calc.CartTotals(draft.LineItems, s.chosenCost(draft))
		draft.touch(s.now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound()
	}
	return session, nil
}

func (s *service) Complete(_ context.Context, id string, req CompleteRequest, origin string) (*Session, error) {
	session, found, err := s.store.Mutate(id, func(draft *Session) error {
		// Repeat completion returns the stored session, order id included,
		// without re-running the payment simulation.
		if draft.Status == StatusCompleted {
			return nil
		}
		if draft.Status == StatusCanceled {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus, "checkout session is canceled")
		}

		credential, paymentErr := paymentCredential(req.PaymentData)
		if paymentErr != nil {
			return paymentErr
		}

		if requires3DSPattern.MatchString(credential) && !bagProvided(req.PaymentData.AuthenticationResult) {
			return pkgerrors.New(
				pkgerrors.CodeRequires3DS,
				"payment requires 3DS authentication; resubmit with authentication_result",
			).WithParam("$.payment_data.authentication_result")
		}
		if declinedPattern.MatchString(credential) {
			return pkgerrors.New(pkgerrors.CodePaymentDeclined, "payment was declined")
		}

		orderID := "ord_" + uuid.NewString()
		draft.Order = &Order{
			ID:                orderID,
			CheckoutSessionID: draft.ID,
			PermalinkURL:      s.permalink(origin, orderID),
		}
		draft.Status = StatusCompleted
		draft.Messages = append(draft.Messages, Message{
			Type:        MessageTypeInfo,
			ContentType: "plain",
			Content:     "Your order has been placed.",
		})
		draft.touch(s.now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound()
	}
	return session, nil
}

func (s *service) Cancel(_ context.Context, id string) (*Session, error) {
	session, found, err := s.store.Mutate(id, func(draft *Session) error {
		if draft.Status == StatusCompleted {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus, "checkout session is already completed")
		}
		if draft.Status != StatusCanceled {
			draft.Messages = append(draft.Messages, Message{
				Type:        MessageTypeInfo,
				ContentType: "plain",
				Content:     "Checkout session canceled.",
			})
		}
		draft.Status = StatusCanceled
		draft.touch(s.now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound()
	}
	return session, nil
}

func (s *service) buildLineItems(inputs []LineItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for i, input := range inputs {
		if strings.TrimSpace(input.ItemID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "item_id is required").
				WithParam(fmt.Sprintf("$.line_items[%d].item_id", i))
		}
		quantity := 1
		if input.Quantity != nil {
			if *input.Quantity < 1 {
				return nil, pkgerrors.New(pkgerrors.CodeMissingRequiredField, "quantity must be at least 1").
					WithParam(fmt.Sprintf("$.line_items[%d].quantity", i))
			}
			quantity = *input.Quantity
		}
		unitAmount := DefaultUnitAmount(input.ItemID)
		if input.UnitAmount != nil {
			unitAmount = *input.UnitAmount
		}
		item := LineItem{
			ID:         fmt.Sprintf("li_%d", i+1),
			ItemID:     input.ItemID,
			Quantity:   quantity,
			UnitAmount: unitAmount,
			Totals:     s.calc.LineTotals(unitAmount, quantity),
		}
		if input.DisplayName != "" {
			name := input.DisplayName
			item.DisplayName = &name
		}
		items = append(items, item)
	}
	return items, nil
}

// chosenCost resolves the shipping cost of the first selected option, or the
// catalog's first option when nothing is selected.
func (s *service) chosenCost(session *Session) int64 {
	if len(session.SelectedFulfillmentOptions) > 0 {
		for _, option := range session.FulfillmentOptions {
			if option.ID == session.SelectedFulfillmentOptions[0].OptionID {
				return option.Cost()
			}
		}
	}
	if len(session.FulfillmentOptions) > 0 {
		return session.FulfillmentOptions[0].Cost()
	}
	return 0
}

func (s *service) permalink(origin, orderID string) string {
	base := strings.TrimRight(strings.TrimSpace(origin), "/")
	if base == "" {
		base = s.baseURL
	}
	return base + "/orders/" + orderID
}

func paymentCredential(data *PaymentData) (string, error) {
	if data == nil {
		return "", pkgerrors.New(pkgerrors.CodeMissingRequiredField, "payment_data is required").WithParam("$.payment_data")
	}
	if data.HandlerID != "" && data.Token != "" {
		return data.Token, nil
	}
	if data.PurchaseOrderNumber != "" {
		return data.PurchaseOrderNumber, nil
	}
	return "", pkgerrors.New(
		pkgerrors.CodeMissingRequiredField,
		"payment_data requires handler_id with a credential token or a purchase_order_number",
	).WithParam("$.payment_data")
}

func optionExists(catalog []FulfillmentOption, optionID string) bool {
	for _, option := range catalog {
		if option.ID == optionID {
			return true
		}
	}
	return false
}

func lineItemIDs(items []LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func notFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found").WithParam("$.checkout_session_id")
}

// fulfillmentCatalog is the fixed two-option catalog attached to every
// session at creation.
func fulfillmentCatalog() []FulfillmentOption {
	return []FulfillmentOption{
		{
			ID:       "fulfillment_standard",
			Title:    "Standard Shipping",
			Subtitle: "Arrives in 5-7 business days",
			Carrier:  "USPS",
			Totals:   shippingTotals(500),
		},
		{
			ID:       "fulfillment_express",
			Title:    "Express Shipping",
			Subtitle: "Arrives in 1-2 business days",
			Carrier:  "FedEx",
			Totals:   shippingTotals(1500),
		},
	}
}

func shippingTotals(cost int64) []Total {
	return []Total{
		{Type: TotalTypeSubtotal, DisplayText: "Subtotal", Amount: cost},
		{Type: TotalTypeTotal, DisplayText: "Total", Amount: cost},
	}
}
