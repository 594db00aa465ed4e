package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/libs/auth"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type createOfferRequest struct {
	Direction         string   `json:"direction"`
	Currency          string   `json:"currency"`
	WalletType        string   `json:"wallet_type"`
	Amount            string   `json:"amount"`
	AmountMin         string   `json:"amount_min"`
	AmountMax         string   `json:"amount_max"`
	PriceModel        string   `json:"price_model"`
	PriceValue        string   `json:"price_value"`
	PaymentMethodIDs  []string `json:"payment_method_ids"`
	Terms             string   `json:"terms"`
	AutoCancelMinutes int      `json:"auto_cancel_minutes"`
}

type offerResponse struct {
	OfferID           string   `json:"offer_id"`
	OwnerID           string   `json:"owner_id"`
	Direction         string   `json:"direction"`
	Currency          string   `json:"currency"`
	WalletType        string   `json:"wallet_type"`
	AmountRemaining   string   `json:"amount_remaining"`
	AmountMin         string   `json:"amount_min"`
	AmountMax         string   `json:"amount_max"`
	PriceModel        string   `json:"price_model"`
	PriceValue        string   `json:"price_value"`
	PaymentMethodIDs  []string `json:"payment_method_ids"`
	Status            string   `json:"status"`
	Terms             string   `json:"terms,omitempty"`
	AutoCancelMinutes int      `json:"auto_cancel_minutes"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

func (h *Handler) CreateOffer(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}

	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	amount, err := parseDecimalField(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "amount must be a decimal"})
		return
	}
	amountMin, err := parseDecimalField(req.AmountMin)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "amount_min must be a decimal"})
		return
	}
	amountMax, err := parseDecimalField(req.AmountMax)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "amount_max must be a decimal"})
		return
	}
	priceValue, err := parseDecimalField(req.PriceValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "price_value must be a decimal"})
		return
	}

	methodIDs := make([]uuid.UUID, 0, len(req.PaymentMethodIDs))
	for _, raw := range req.PaymentMethodIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payment method id"})
			return
		}
		methodIDs = append(methodIDs, id)
	}

	offer, err := h.Service.CreateOffer(c.Request.Context(), storage.CreateOfferRequest{
		OwnerUserID:             userID,
		Direction:               engine.OfferDirection(strings.ToUpper(strings.TrimSpace(req.Direction))),
		Currency:                req.Currency,
		WalletType:              req.WalletType,
		Amount:                  amount,
		AmountMin:               amountMin,
		AmountMax:               amountMax,
		PriceModel:              engine.PriceModel(strings.ToUpper(strings.TrimSpace(req.PriceModel))),
		PriceValue:              priceValue,
		AllowedPaymentMethodIDs: methodIDs,
		Terms:                   req.Terms,
		AutoCancelMinutes:       req.AutoCancelMinutes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offerToResponse(offer))
}

func (h *Handler) offerAction(target engine.OfferStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
			return
		}
		offerID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid offer id"})
			return
		}

		offer, err := h.Service.TransitionOffer(c.Request.Context(), storage.TransitionOfferRequest{
			OfferID: offerID,
			Target:  target,
			ActorID: userID,
			IsAdmin: auth.HasRole(c, auth.RoleAdmin),
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, offerToResponse(offer))
	}
}

func (h *Handler) GetOffer(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid offer id"})
		return
	}

	offer, err := h.Service.GetOffer(c.Request.Context(), offerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, offerToResponse(offer))
}

func (h *Handler) ListOffers(c *gin.Context) {
	filter := storage.OfferFilter{
		Currency: c.Query("currency"),
		Limit:    parseLimit(c.Query("limit")),
	}
	if direction := strings.ToUpper(strings.TrimSpace(c.Query("direction"))); direction != "" {
		filter.Direction = engine.OfferDirection(direction)
	}

	offers, err := h.Service.ListOpenOffers(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]offerResponse, 0, len(offers))
	for _, offer := range offers {
		items = append(items, offerToResponse(offer))
	}
	c.JSON(http.StatusOK, gin.H{"offers": items})
}

func offerToResponse(o *storage.Offer) offerResponse {
	methodIDs := make([]string, 0, len(o.AllowedPaymentMethodIDs))
	for _, id := range o.AllowedPaymentMethodIDs {
		methodIDs = append(methodIDs, id.String())
	}
	return offerResponse{
		OfferID:           o.ID.String(),
		OwnerID:           o.OwnerUserID.String(),
		Direction:         string(o.Direction),
		Currency:          o.Currency,
		WalletType:        o.WalletType,
		AmountRemaining:   o.AmountRemaining.String(),
		AmountMin:         o.AmountMin.String(),
		AmountMax:         o.AmountMax.String(),
		PriceModel:        string(o.PriceModel),
		PriceValue:        o.PriceValue.String(),
		PaymentMethodIDs:  methodIDs,
		Status:            string(o.Status),
		Terms:             o.Terms,
		AutoCancelMinutes: o.AutoCancelMinutes,
		CreatedAt:         o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parseDecimalField(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}
