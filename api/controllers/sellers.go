package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/api/responses"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

type sellerLedger interface {
	Withdraw(ctx context.Context, sellerID, shopID uuid.UUID, amount int64, ref string) (*models.SellerLedgerEntry, error)
	History(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.SellerLedgerEntry, error)
}

type feeConfigCreator interface {
	CreateConfig(ctx context.Context, input fees.CreateConfigInput) (*models.PlatformFeeConfig, error)
}

type withdrawalRequest struct {
	ShopID uuid.UUID `json:"shop_id" validate:"required"`
	Amount int64     `json:"amount" validate:"required,gt=0"`
	Ref    string    `json:"ref" validate:"required,max=120"`
}

// WithdrawFunds pays out part of a seller balance. Overdrafts are rejected
// with INSUFFICIENT_SELLER_BALANCE.
func WithdrawFunds(ledger sellerLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := uuidParam(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body withdrawalRequest
		if err := validate.DecodeJSON(r.Body, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := ledger.Withdraw(r.Context(), sellerID, body.ShopID, body.Amount, body.Ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

// LedgerHistory lists the newest entries of a seller. limit is optional.
func LedgerHistory(ledger sellerLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := uuidParam(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit").
					WithDetails(map[string]any{"limit": raw}))
				return
			}
		}
		entries, err := ledger.History(r.Context(), sellerID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

func CreateFeeConfig(creator feeConfigCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input fees.CreateConfigInput
		if err := validate.DecodeJSON(r.Body, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cfg, err := creator.CreateConfig(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, cfg)
	}
}
