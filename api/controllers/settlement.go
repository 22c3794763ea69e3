package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/api/responses"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

const defaultSweepJob = "settlement-sweep"

type jobTrigger interface {
	Trigger(ctx context.Context, name string) error
}

type orderSettler interface {
	SettleOrder(ctx context.Context, orderID uuid.UUID) (*settlement.Result, error)
}

type ledgerReconciler interface {
	Reconcile(ctx context.Context, sellerID uuid.UUID) (*ledger.ReconcileReport, error)
}

type sweepRequest struct {
	Job string `json:"job" validate:"omitempty,oneof=settlement-sweep order-expiry outbox-retention"`
}

// TriggerSweep runs a scheduler job on demand. It blocks until the job
// finishes and answers 409 when another run holds the scheduler lock.
func TriggerSweep(jobs jobTrigger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body sweepRequest
		if err := validate.DecodeJSON(r.Body, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job := body.Job
		if job == "" {
			job = defaultSweepJob
		}
		if err := jobs.Trigger(r.Context(), job); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"job": job, "status": "completed"})
	}
}

// SettleOrder runs the settlement routine for a single order. Skips and
// duplicate payouts are answered with 200 and the outcome in the body.
func SettleOrder(settler orderSettler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := settler.SettleOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ReconcileSeller(reconciler ledgerReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := uuidParam(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := reconciler.Reconcile(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{name: raw})
	}
	return id, nil
}
