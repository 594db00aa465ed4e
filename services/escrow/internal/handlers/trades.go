package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techcsc21/trade4u-sub031/libs/auth"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/service"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type initiateTradeRequest struct {
	OfferID         string `json:"offer_id"`
	Amount          string `json:"amount"`
	PaymentMethodID string `json:"payment_method_id"`
	Message         string `json:"message"`
}

type tradeActionRequest struct {
	Message string `json:"message"`
}

type disputeRequest struct {
	Reason  string `json:"reason"`
	Details string `json:"details"`
	Message string `json:"message"`
}

type resolveRequest struct {
	Outcome    string `json:"outcome"`
	Resolution string `json:"resolution"`
	Message    string `json:"message"`
}

type timelineItem struct {
	Event     string `json:"event"`
	ActorID   string `json:"actor_id"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"created_at"`
}

type tradeResponse struct {
	TradeID          string         `json:"trade_id"`
	OfferID          string         `json:"offer_id"`
	BuyerID          string         `json:"buyer_id"`
	SellerID         string         `json:"seller_id"`
	Amount           string         `json:"amount"`
	Price            string         `json:"price"`
	TotalAmount      string         `json:"total_amount"`
	Currency         string         `json:"currency"`
	PaymentMethodID  string         `json:"payment_method_id"`
	Status           string         `json:"status"`
	BuyerFee         string         `json:"buyer_fee"`
	SellerFee        string         `json:"seller_fee"`
	EscrowFee        string         `json:"escrow_fee"`
	PaymentSentAt    *string        `json:"payment_sent_at,omitempty"`
	EscrowReleasedAt *string        `json:"escrow_released_at,omitempty"`
	CompletedAt      *string        `json:"completed_at,omitempty"`
	ExpiresAt        string         `json:"expires_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	Timeline         []timelineItem `json:"timeline,omitempty"`
}

type disputeResponse struct {
	DisputeID  string  `json:"dispute_id"`
	TradeID    string  `json:"trade_id"`
	ReporterID string  `json:"reporter_id"`
	Reason     string  `json:"reason"`
	Details    string  `json:"details,omitempty"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	Resolution string  `json:"resolution,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func (h *Handler) InitiateTrade(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}

	var req initiateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid offer_id"})
		return
	}
	paymentMethodID, err := uuid.Parse(req.PaymentMethodID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payment_method_id"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "amount must be a positive decimal"})
		return
	}

	result, err := h.Service.InitiateTrade(c.Request.Context(), service.InitiateTradeInput{
		OfferID:         offerID,
		ActorID:         userID,
		Amount:          amount,
		PaymentMethodID: paymentMethodID,
		Message:         req.Message,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tradeToResponse(result.Trade))
}

func (h *Handler) tradeAction(target engine.TradeStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
			return
		}
		tradeID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid trade id"})
			return
		}

		var req tradeActionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
				return
			}
		}

		result, err := h.Service.TransitionTrade(c.Request.Context(), service.TransitionTradeInput{
			TradeID: tradeID,
			Target:  target,
			ActorID: userID,
			IsAdmin: auth.HasRole(c, auth.RoleAdmin),
			Message: req.Message,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tradeToResponse(result.Trade))
	}
}

func (h *Handler) DisputeTrade(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	tradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid trade id"})
		return
	}

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	result, err := h.Service.TransitionTrade(c.Request.Context(), service.TransitionTradeInput{
		TradeID: tradeID,
		Target:  engine.TradeDisputed,
		ActorID: userID,
		IsAdmin: auth.HasRole(c, auth.RoleAdmin),
		Message: req.Message,
		Reason:  engine.DisputeReason(req.Reason),
		Details: req.Details,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"trade": tradeToResponse(result.Trade)}
	if result.Dispute != nil {
		resp["dispute"] = disputeToResponse(result.Dispute)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ResolveDispute(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	if !auth.HasRole(c, auth.RoleAdmin) {
		c.JSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: "dispute resolution is admin only"})
		return
	}
	tradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid trade id"})
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	var target engine.TradeStatus
	switch req.Outcome {
	case "release":
		target = engine.TradeCompleted
	case "refund":
		target = engine.TradeCancelled
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "outcome must be release or refund"})
		return
	}

	result, err := h.Service.TransitionTrade(c.Request.Context(), service.TransitionTradeInput{
		TradeID:    tradeID,
		Target:     target,
		ActorID:    userID,
		IsAdmin:    true,
		Message:    req.Message,
		Resolution: req.Resolution,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"trade": tradeToResponse(result.Trade)}
	if result.Dispute != nil {
		resp["dispute"] = disputeToResponse(result.Dispute)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTrade(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	tradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid trade id"})
		return
	}

	trade, err := h.Service.GetTrade(c.Request.Context(), userID, auth.HasRole(c, auth.RoleAdmin), tradeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tradeToResponse(trade))
}

func (h *Handler) ListTrades(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}

	trades, err := h.Service.ListTradesForUser(c.Request.Context(), userID, parseLimit(c.Query("limit")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]tradeResponse, 0, len(trades))
	for _, trade := range trades {
		items = append(items, tradeToResponse(trade))
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

func (h *Handler) GetDispute(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	tradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid trade id"})
		return
	}

	dispute, err := h.Service.GetOpenDispute(c.Request.Context(), userID, auth.HasRole(c, auth.RoleAdmin), tradeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputeToResponse(dispute))
}

func tradeToResponse(t *storage.Trade) tradeResponse {
	resp := tradeResponse{
		TradeID:          t.ID.String(),
		OfferID:          t.OfferID.String(),
		BuyerID:          t.BuyerUserID.String(),
		SellerID:         t.SellerUserID.String(),
		Amount:           t.Amount.String(),
		Price:            t.Price.String(),
		TotalAmount:      t.TotalAmount.String(),
		Currency:         t.Currency,
		PaymentMethodID:  t.PaymentMethodID.String(),
		Status:           string(t.Status),
		BuyerFee:         t.BuyerFee.String(),
		SellerFee:        t.SellerFee.String(),
		EscrowFee:        t.EscrowFee.String(),
		PaymentSentAt:    formatTimePtr(t.PaymentSentAt),
		EscrowReleasedAt: formatTimePtr(t.EscrowReleasedAt),
		CompletedAt:      formatTimePtr(t.CompletedAt),
		ExpiresAt:        t.ExpiresAt.UTC().Format(time.RFC3339),
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, entry := range t.Timeline {
		resp.Timeline = append(resp.Timeline, timelineItem{
			Event:     string(entry.Event),
			ActorID:   entry.ActorID.String(),
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

func disputeToResponse(d *storage.Dispute) disputeResponse {
	return disputeResponse{
		DisputeID:  d.ID.String(),
		TradeID:    d.TradeID.String(),
		ReporterID: d.ReporterID.String(),
		Reason:     string(d.Reason),
		Details:    d.Details,
		Status:     d.Status,
		Priority:   d.Priority,
		Resolution: d.Resolution,
		ResolvedAt: formatTimePtr(d.ResolvedAt),
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
