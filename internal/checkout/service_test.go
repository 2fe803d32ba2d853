package checkout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	rate, err := decimal.NewFromString("0.085")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Store:           NewStore(),
		TaxRate:         rate,
		ProtocolVersion: "2025-09-29",
		BaseURL:         "https://merchant.example.com",
	})
	require.NoError(t, err)
	return svc
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Capabilities: json.RawMessage(`{"payment":{"handlers":["card"]}}`),
		Currency:     "USD",
		LineItems: []LineItemInput{
			{ItemID: "item_123", Quantity: intPtr(3), UnitAmount: int64Ptr(1000)},
		},
	}
}

func completeRequest(token string) CompleteRequest {
	return CompleteRequest{
		PaymentData: &PaymentData{HandlerID: "card_handler", Token: token},
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func totalAmount(totals []Total, typ TotalType) int64 {
	for _, total := range totals {
		if total.Type == typ {
			return total.Amount
		}
	}
	return -1
}

func TestCreateSession(t *testing.T) {
	svc := newTestService(t)

	session, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusReadyForPayment, session.Status)
	assert.Equal(t, "usd", session.Currency, "currency is stored lower-cased")
	assert.True(t, session.CreatedAt.Equal(session.UpdatedAt))
	require.Len(t, session.LineItems, 1)
	assert.Equal(t, "li_1", session.LineItems[0].ID)
	assert.Equal(t, 3, session.LineItems[0].Quantity)

	assert.Equal(t, int64(3000), totalAmount(session.Totals, TotalTypeSubtotal))
	assert.Equal(t, int64(255), totalAmount(session.Totals, TotalTypeTax))
	assert.Equal(t, int64(500), totalAmount(session.Totals, TotalTypeFulfillment))
	assert.Equal(t, int64(3755), totalAmount(session.Totals, TotalTypeTotal))

	// First catalog option is auto-selected for every line item.
	require.Len(t, session.SelectedFulfillmentOptions, 1)
	assert.Equal(t, "fulfillment_standard", session.SelectedFulfillmentOptions[0].OptionID)
	assert.Equal(t, []string{"li_1"}, session.SelectedFulfillmentOptions[0].LineItemIDs)

	require.Len(t, session.FulfillmentOptions, 2)
	require.Len(t, session.Links, 1)
	assert.Equal(t, LinkTypeTermsOfUse, session.Links[0].Type)
}

func TestCreateDefaultsQuantityAndPrice(t *testing.T) {
	svc := newTestService(t)

	req := validCreateRequest()
	req.LineItems = []LineItemInput{{ItemID: "item_abc"}}

	session, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	item := session.LineItems[0]
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, DefaultUnitAmount("item_abc"), item.UnitAmount)
	assert.GreaterOrEqual(t, item.UnitAmount, int64(1200))
	assert.Less(t, item.UnitAmount, int64(4800))
}

func TestCreateMissingFields(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name  string
		amend func(*CreateRequest)
		param string
	}{
		{"capabilities", func(r *CreateRequest) { r.Capabilities = nil }, "$.capabilities"},
		{"null capabilities", func(r *CreateRequest) { r.Capabilities = json.RawMessage("null") }, "$.capabilities"},
		{"currency", func(r *CreateRequest) { r.Currency = "" }, "$.currency"},
		{"line items", func(r *CreateRequest) { r.LineItems = nil }, "$.line_items"},
		{"item id", func(r *CreateRequest) { r.LineItems[0].ItemID = "" }, "$.line_items[0].item_id"},
		{"zero quantity", func(r *CreateRequest) { r.LineItems[0].Quantity = intPtr(0) }, "$.line_items[0].quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.amend(&req)
			_, err := svc.Create(context.Background(), req)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeMissingRequiredField, typed.Code())
			assert.Equal(t, tc.param, typed.Param())
		})
	}
}

func TestGetUnknownSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get(context.Background(), "cs_missing")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestUpdateReplacesBagsAndRecomputesTotals(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpdateRequest{
		Buyer: json.RawMessage(`{"email":"buyer@example.com"}`),
		SelectedFulfillmentOptions: []SelectedFulfillmentOption{
			{OptionID: "fulfillment_express", LineItemIDs: []string{"li_1"}},
		},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"email":"buyer@example.com"}`, string(updated.Buyer))
	assert.Equal(t, int64(1500), totalAmount(updated.Totals, TotalTypeFulfillment))
	assert.Equal(t, int64(3000+255+1500), totalAmount(updated.Totals, TotalTypeTotal))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
}

func TestUpdateRetainsAbsentFields(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), CreateRequest{
		Capabilities: json.RawMessage(`{}`),
		Currency:     "usd",
		LineItems:    []LineItemInput{{ItemID: "item_1"}},
		Metadata:     json.RawMessage(`{"channel":"agent"}`),
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpdateRequest{
		Buyer: json.RawMessage(`{"email":"b@example.com"}`),
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"channel":"agent"}`, string(updated.Metadata))
	require.Len(t, updated.LineItems, 1)
	assert.Equal(t, "item_1", updated.LineItems[0].ItemID)
}

func TestUpdateReplacesLineItemsWithFreshIDs(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpdateRequest{
		LineItems: []LineItemInput{
			{ItemID: "item_x", UnitAmount: int64Ptr(200)},
			{ItemID: "item_y", UnitAmount: int64Ptr(300), Quantity: intPtr(2)},
		},
	})
	require.NoError(t, err)

	require.Len(t, updated.LineItems, 2)
	assert.Equal(t, "li_1", updated.LineItems[0].ID)
	assert.Equal(t, "li_2", updated.LineItems[1].ID)
	assert.Equal(t, int64(200+600), totalAmount(updated.Totals, TotalTypeSubtotal))
}

func TestUpdateRejectsEmptyLineItems(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateRequest{
		LineItems: []LineItemInput{},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeMissingRequiredField, typed.Code())
	assert.Equal(t, "$.line_items", typed.Param())

	after, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, after.LineItems, 1)
	assert.True(t, after.UpdatedAt.Equal(created.UpdatedAt))
}

func TestUpdateUnknownFulfillmentOptionIsAtomic(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateRequest{
		Buyer: json.RawMessage(`{"email":"should-not-stick@example.com"}`),
		SelectedFulfillmentOptions: []SelectedFulfillmentOption{
			{OptionID: "fulfillment_overnight"},
		},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInvalidFulfillmentOption, typed.Code())
	assert.Equal(t, "$.selected_fulfillment_options[0].option_id", typed.Param())

	// The whole update is rejected: no field changed, updated_at untouched.
	after, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Buyer)
	assert.True(t, after.UpdatedAt.Equal(created.UpdatedAt))
}

func TestUpdateUnknownSession(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Update(context.Background(), "cs_missing", UpdateRequest{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestCompleteAuthorizes(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	session, err := svc.Complete(context.Background(), created.ID, completeRequest("tok_visa_ok"), "https://agent.example.net")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, session.Status)
	require.NotNil(t, session.Order)
	assert.Equal(t, created.ID, session.Order.CheckoutSessionID)
	assert.Contains(t, session.Order.PermalinkURL, "https://agent.example.net/orders/ord_")
	require.NotEmpty(t, session.Messages)
	assert.Equal(t, MessageTypeInfo, session.Messages[len(session.Messages)-1].Type)
}

func TestCompleteWithPurchaseOrderNumber(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	session, err := svc.Complete(context.Background(), created.ID, CompleteRequest{
		PaymentData: &PaymentData{PurchaseOrderNumber: "PO-2026-0042"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)
	assert.Contains(t, session.Order.PermalinkURL, "https://merchant.example.com/orders/")
}

func TestCompleteMissingPaymentData(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	cases := []CompleteRequest{
		{},
		{PaymentData: &PaymentData{}},
		{PaymentData: &PaymentData{HandlerID: "card_handler"}}, // token missing
		{PaymentData: &PaymentData{Token: "tok_visa"}},         // handler missing
	}
	for _, req := range cases {
		_, err := svc.Complete(context.Background(), created.ID, req, "")
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeMissingRequiredField, typed.Code())
		assert.Equal(t, "$.payment_data", typed.Param())
	}
}

func TestCompleteDeclinedTokens(t *testing.T) {
	svc := newTestService(t)

	for _, token := range []string{"tok_DECLINE_me", "tok_failure", "tok_insufficient_funds"} {
		created, err := svc.Create(context.Background(), validCreateRequest())
		require.NoError(t, err)

		_, err = svc.Complete(context.Background(), created.ID, completeRequest(token), "")
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, token)
		assert.Equal(t, pkgerrors.CodePaymentDeclined, typed.Code(), token)

		after, err := svc.Get(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusReadyForPayment, after.Status, "declined completion must not move the session")
	}
}

func TestComplete3DSChallenge(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID, completeRequest("tok_3DS_Required"), "")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeRequires3DS, typed.Code())

	// Resubmitting with authentication evidence succeeds.
	session, err := svc.Complete(context.Background(), created.ID, CompleteRequest{
		PaymentData: &PaymentData{
			HandlerID:            "card_handler",
			Token:                "tok_3ds_required",
			AuthenticationResult: json.RawMessage(`{"cryptogram":"abc"}`),
		},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, session.Status)
}

func TestCompleteIsIdempotentOnCompletedSession(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	first, err := svc.Complete(context.Background(), created.ID, completeRequest("tok_ok"), "https://a.example")
	require.NoError(t, err)

	// Second call returns the stored session unchanged, even with a token
	// that would otherwise decline.
	second, err := svc.Complete(context.Background(), created.ID, completeRequest("tok_decline"), "https://b.example")
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.PermalinkURL, second.Order.PermalinkURL)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestCompleteAfterCancel(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID, completeRequest("tok_ok"), "")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInvalidStatus, typed.Code())
}

func TestCancelAfterComplete(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), created.ID, completeRequest("tok_ok"), "")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), created.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInvalidStatus, typed.Code())
}

func TestCancelIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	first, err := svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, first.Status)

	second, err := svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, second.Status)
	// The informational message is attached once.
	assert.Equal(t, len(first.Messages), len(second.Messages))
}

func TestUpdatedAtMonotonicAcrossMutations(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rate, err := decimal.NewFromString("0.085")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Store:           NewStore(),
		TaxRate:         rate,
		ProtocolVersion: "2025-09-29",
		BaseURL:         "https://merchant.example.com",
		Now:             func() time.Time { return base }, // frozen clock
	})
	require.NoError(t, err)

	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpdateRequest{
		Metadata: json.RawMessage(`{"note":"1"}`),
	})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "updated_at must advance even under a frozen clock")
}
