package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/api/responses"
	"github.com/angelmondragon/marketsettle-backend/internal/returns"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

type returnDesk interface {
	RequestReturn(ctx context.Context, input returns.RequestInput) (*models.ReturnRequest, error)
	ApproveReturn(ctx context.Context, returnID, actorID uuid.UUID) (*returns.ClawbackOutcome, error)
	RejectReturn(ctx context.Context, returnID, actorID uuid.UUID, note string) (*models.ReturnRequest, error)
}

type reviewRequest struct {
	ActorID uuid.UUID `json:"actor_id" validate:"required"`
	Note    string    `json:"note" validate:"max=500"`
}

func RequestReturn(desk returnDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input returns.RequestInput
		if err := validate.DecodeJSON(r.Body, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := desk.RequestReturn(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// ApproveReturn refunds the buyer and claws the refund back from the seller
// when the order was already settled.
func ApproveReturn(desk returnDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnID, body, ok := decodeReview(w, r, logg)
		if !ok {
			return
		}
		outcome, err := desk.ApproveReturn(r.Context(), returnID, body.ActorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

func RejectReturn(desk returnDesk, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnID, body, ok := decodeReview(w, r, logg)
		if !ok {
			return
		}
		request, err := desk.RejectReturn(r.Context(), returnID, body.ActorID, validate.SanitizeString(body.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

func decodeReview(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, reviewRequest, bool) {
	var body reviewRequest
	returnID, err := uuidParam(r, "returnId")
	if err == nil {
		err = validate.DecodeJSON(r.Body, &body)
	}
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, body, false
	}
	return returnID, body, true
}
