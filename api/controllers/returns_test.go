package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketsettle-backend/internal/checkout"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/returns"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

type fakeDesk struct {
	approved uuid.UUID
	actor    uuid.UUID
	note     string
	err      error
}

func (f *fakeDesk) RequestReturn(_ context.Context, input returns.RequestInput) (*models.ReturnRequest, error) {
	return &models.ReturnRequest{ID: uuid.New(), OrderID: input.OrderID, Status: enums.ReturnStatusRequested}, f.err
}

func (f *fakeDesk) ApproveReturn(_ context.Context, returnID, actorID uuid.UUID) (*returns.ClawbackOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.approved, f.actor = returnID, actorID
	return &returns.ClawbackOutcome{RefundAmount: 900, BuyerCredited: true, SellerWasPaid: true}, nil
}

func (f *fakeDesk) RejectReturn(_ context.Context, returnID, actorID uuid.UUID, note string) (*models.ReturnRequest, error) {
	f.actor, f.note = actorID, note
	return &models.ReturnRequest{ID: returnID, Status: enums.ReturnStatusRejected}, f.err
}

type fakePlacer struct {
	input checkout.PlaceOrderInput
}

func (f *fakePlacer) PlaceOrder(_ context.Context, input checkout.PlaceOrderInput) (*models.Order, error) {
	f.input = input
	return &models.Order{ID: uuid.New(), Status: enums.OrderStatusPending}, nil
}

type fakeFeeCreator struct{ calls int }

func (f *fakeFeeCreator) CreateConfig(_ context.Context, input fees.CreateConfigInput) (*models.PlatformFeeConfig, error) {
	f.calls++
	return &models.PlatformFeeConfig{ID: uuid.New(), Name: input.Name}, nil
}

func post(handler http.HandlerFunc, pattern, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post(pattern, handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return w
}

func TestApproveReturnPassesActor(t *testing.T) {
	desk := &fakeDesk{}
	returnID, actorID := uuid.New(), uuid.New()

	w := post(ApproveReturn(desk, testLogger()), "/returns/{returnId}/approve",
		"/returns/"+returnID.String()+"/approve", `{"actor_id":"`+actorID.String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, returnID, desk.approved)
	require.Equal(t, actorID, desk.actor)

	var body struct {
		Data returns.ClawbackOutcome `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, int64(900), body.Data.RefundAmount)
	require.True(t, body.Data.SellerWasPaid)
}

func TestApproveReturnErrors(t *testing.T) {
	desk := &fakeDesk{}
	w := post(ApproveReturn(desk, testLogger()), "/returns/{returnId}/approve", "/returns/"+uuid.NewString()+"/approve", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(ApproveReturn(desk, testLogger()), "/returns/{returnId}/approve", "/returns/nope/approve", `{"actor_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, uuid.Nil, desk.approved)

	desk.err = pkgerrors.InvalidTransition("return", "rejected", "approved")
	w = post(ApproveReturn(desk, testLogger()), "/returns/{returnId}/approve", "/returns/"+uuid.NewString()+"/approve", `{"actor_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRejectReturnTrimsNote(t *testing.T) {
	desk := &fakeDesk{}
	actorID := uuid.New()

	w := post(RejectReturn(desk, testLogger()), "/returns/{returnId}/reject",
		"/returns/"+uuid.NewString()+"/reject", `{"actor_id":"`+actorID.String()+`","note":"  not eligible  "}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, actorID, desk.actor)
	require.Equal(t, "not eligible", desk.note)
}

func TestRequestReturnCreates(t *testing.T) {
	orderID := uuid.New()
	body := `{"order_id":"` + orderID.String() + `","buyer_id":"` + uuid.NewString() + `","resolution":"refund","reason":"damaged"}`

	w := post(RequestReturn(&fakeDesk{}, testLogger()), "/returns", "/returns", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), orderID.String())

	w = post(RequestReturn(&fakeDesk{}, testLogger()), "/returns", "/returns", `{"order_id":"`+orderID.String()+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrderDecodesLines(t *testing.T) {
	placer := &fakePlacer{}
	productID := uuid.New()
	body := `{"buyer_id":"` + uuid.NewString() + `","items":[{"product_id":"` + productID.String() + `","quantity":2}],"payment_method":"wallet"}`

	w := post(PlaceOrder(placer, testLogger()), "/orders", "/orders", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, placer.input.Items, 1)
	require.Equal(t, productID, placer.input.Items[0].ProductID)
	require.Equal(t, 2, placer.input.Items[0].Quantity)

	w = post(PlaceOrder(placer, testLogger()), "/orders", "/orders", `{"buyer_id":"`+uuid.NewString()+`","items":[],"payment_method":"wallet"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateFeeConfigRejectsUnknownFields(t *testing.T) {
	creator := &fakeFeeCreator{}

	w := post(CreateFeeConfig(creator, testLogger()), "/fee-configs", "/fee-configs", `{"name":"promo","scope":"global","fee_type":"fixed","fixed_amount":100,"surprise":true}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, creator.calls)

	w = post(CreateFeeConfig(creator, testLogger()), "/fee-configs", "/fee-configs", `{"name":"promo","scope":"global","fee_type":"fixed","fixed_amount":100}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, 1, creator.calls)
	require.Contains(t, w.Body.String(), "promo")
}
