package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/api/responses"
	"github.com/angelmondragon/marketsettle-backend/internal/checkout"
	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, input checkout.PlaceOrderInput) (*models.Order, error)
}

type orderTransitioner interface {
	Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error)
}

type stockQuoter interface {
	Quote(ctx context.Context, productID uuid.UUID) (*inventory.Quote, error)
}

type transitionRequest struct {
	To      enums.OrderStatus `json:"to" validate:"required"`
	ActorID *uuid.UUID        `json:"actor_id"`
	Reason  string            `json:"reason" validate:"max=500"`
}

// PlaceOrder reserves FIFO stock and creates a PENDING order.
func PlaceOrder(placer orderPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input checkout.PlaceOrderInput
		if err := validate.DecodeJSON(r.Body, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := placer.PlaceOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// TransitionOrder applies an operator status change. Illegal transitions
// are answered with 422.
func TransitionOrder(lifecycle orderTransitioner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transitionRequest
		if err := validate.DecodeJSON(r.Body, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := lifecycle.Transition(r.Context(), orders.TransitionInput{
			OrderID: orderID,
			To:      body.To,
			ActorID: body.ActorID,
			Reason:  validate.SanitizeString(body.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func QuoteProduct(quoter stockQuoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuidParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := quoter.Quote(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
