package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type createDonationRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=100"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	DonorName   string `json:"donor_name" validate:"max=120"`
	DonorEmail  string `json:"donor_email" validate:"omitempty,email"`
	Message     string `json:"message" validate:"max=500"`
	Gateway     string `json:"gateway" validate:"required,oneof=stripe paypal"`
}

func CreateDonation(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("donations"))
			return
		}

		var body createDonationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := donations.CreateInput{
			AmountCents: body.AmountCents,
			Currency:    strings.ToLower(strings.TrimSpace(body.Currency)),
			DonorName:   validators.SanitizeString(body.DonorName, 120),
			DonorEmail:  strings.TrimSpace(body.DonorEmail),
			Message:     validators.SanitizeString(body.Message, 500),
			Gateway:     body.Gateway,
		}
		if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
			userID := principal.UserID
			input.UserID = &userID
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func GetDonation(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("donations"))
			return
		}
		donationID, err := validators.URLParamUUID(r, "donationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		donation, err := svc.Get(r.Context(), donationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, donation)
	}
}

// DonationReturn is the browser return for donations; see CheckoutReturn.
func DonationReturn(svc donations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("donations"))
			return
		}
		donationID, err := validators.QueryUUID(r, "donation_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token := returnToken(r)
		if donationID == nil || *donationID == uuid.Nil || token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "donation_id and token required"))
			return
		}

		donation, err := svc.ConfirmReturn(r.Context(), *donationID, token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, donation)
	}
}
