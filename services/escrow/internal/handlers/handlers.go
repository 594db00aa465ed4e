package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"log/slog"

	"github.com/techcsc21/trade4u-sub031/libs/auth"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/service"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
)

type EscrowAPI interface {
	InitiateTrade(ctx context.Context, in service.InitiateTradeInput) (*storage.InitiateTradeResult, error)
	TransitionTrade(ctx context.Context, in service.TransitionTradeInput) (*storage.TransitionTradeResult, error)
	GetTrade(ctx context.Context, actorID uuid.UUID, isAdmin bool, tradeID uuid.UUID) (*storage.Trade, error)
	ListTradesForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*storage.Trade, error)
	GetOpenDispute(ctx context.Context, actorID uuid.UUID, isAdmin bool, tradeID uuid.UUID) (*storage.Dispute, error)
	GetWallet(ctx context.Context, actorID, ownerID uuid.UUID, currency, walletType string, isAdmin bool) (storage.Wallet, error)
	CreateOffer(ctx context.Context, req storage.CreateOfferRequest) (*storage.Offer, error)
	TransitionOffer(ctx context.Context, req storage.TransitionOfferRequest) (*storage.Offer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*storage.Offer, error)
	ListOpenOffers(ctx context.Context, filter storage.OfferFilter) ([]*storage.Offer, error)
	AuditTrail(ctx context.Context, actorID uuid.UUID, isAdmin bool, entityType string, entityID uuid.UUID, limit int) ([]storage.AuditEntry, error)
}

type Handler struct {
	Service EscrowAPI
	Logger  *slog.Logger
}

func New(svc EscrowAPI, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/v1", auth.Middleware(jwtSecret))

	group.POST("/offers", h.CreateOffer)
	group.GET("/offers", h.ListOffers)
	group.GET("/offers/:id", h.GetOffer)
	group.POST("/offers/:id/submit", h.offerAction(engine.OfferPendingApproval))
	group.POST("/offers/:id/approve", h.offerAction(engine.OfferActive))
	group.POST("/offers/:id/reject", h.offerAction(engine.OfferRejected))
	group.POST("/offers/:id/pause", h.offerAction(engine.OfferPaused))
	group.POST("/offers/:id/resume", h.offerAction(engine.OfferActive))
	group.POST("/offers/:id/cancel", h.offerAction(engine.OfferCancelled))

	group.POST("/trades", h.InitiateTrade)
	group.GET("/trades", h.ListTrades)
	group.GET("/trades/:id", h.GetTrade)
	group.GET("/trades/:id/dispute", h.GetDispute)
	group.POST("/trades/:id/payment", h.tradeAction(engine.TradePaymentSent))
	group.POST("/trades/:id/release", h.tradeAction(engine.TradeEscrowReleased))
	group.POST("/trades/:id/complete", h.tradeAction(engine.TradeCompleted))
	group.POST("/trades/:id/cancel", h.tradeAction(engine.TradeCancelled))
	group.POST("/trades/:id/dispute", h.DisputeTrade)
	group.POST("/trades/:id/resolve", h.ResolveDispute)

	group.GET("/wallets/:currency", h.GetOwnWallet)
	group.GET("/admin/users/:id/wallets/:currency", h.GetUserWallet)
	group.GET("/admin/audit/:entity_type/:id", h.AuditTrail)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type walletResponse struct {
	UserID     string `json:"user_id"`
	Currency   string `json:"currency"`
	WalletType string `json:"wallet_type"`
	Balance    string `json:"balance"`
	InOrder    string `json:"in_order"`
	Available  string `json:"available"`
	UpdatedAt  string `json:"updated_at"`
}

type auditItem struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	EventType     string                `json:"event_type"`
	EntityType    string                `json:"entity_type"`
	EntityID      string                `json:"entity_id"`
	Metadata      storage.AuditMetadata `json:"metadata"`
	RiskLevel     string                `json:"risk_level"`
	IsAdminAction bool                  `json:"is_admin_action"`
	CreatedAt     string                `json:"created_at"`
}

func (h *Handler) GetOwnWallet(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}

	wallet, err := h.Service.GetWallet(c.Request.Context(), userID, userID, c.Param("currency"), c.Query("type"), false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletToResponse(wallet))
}

func (h *Handler) GetUserWallet(c *gin.Context) {
	actorID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	ownerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid user id"})
		return
	}

	wallet, err := h.Service.GetWallet(c.Request.Context(), actorID, ownerID, c.Param("currency"), c.Query("type"), auth.HasRole(c, auth.RoleAdmin))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletToResponse(wallet))
}

func (h *Handler) AuditTrail(c *gin.Context) {
	actorID, ok := userIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return
	}
	entityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid entity id"})
		return
	}

	entries, err := h.Service.AuditTrail(c.Request.Context(), actorID, auth.HasRole(c, auth.RoleAdmin), c.Param("entity_type"), entityID, parseLimit(c.Query("limit")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]auditItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, auditItem{
			ID:            entry.ID.String(),
			UserID:        entry.UserID.String(),
			EventType:     string(entry.EventType),
			EntityType:    entry.EntityType,
			EntityID:      entry.EntityID.String(),
			Metadata:      entry.Metadata,
			RiskLevel:     string(entry.RiskLevel),
			IsAdminAction: entry.IsAdminAction,
			CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

func walletToResponse(w storage.Wallet) walletResponse {
	return walletResponse{
		UserID:     w.UserID.String(),
		Currency:   w.Currency,
		WalletType: w.WalletType,
		Balance:    w.Balance.String(),
		InOrder:    w.InOrder.String(),
		Available:  w.Available().String(),
		UpdatedAt:  w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// writeError maps engine sentinels onto the public error codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case engine.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, engine.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: err.Error()})
	case errors.Is(err, engine.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, errorResponse{Code: "INSUFFICIENT_BALANCE", Message: err.Error()})
	case errors.Is(err, engine.ErrIllegalTransition):
		c.JSON(http.StatusConflict, errorResponse{Code: "ILLEGAL_TRANSITION", Message: err.Error()})
	case errors.Is(err, engine.ErrOfferUnavailable), errors.Is(err, engine.ErrPaymentMethodNotAllowed):
		c.JSON(http.StatusConflict, errorResponse{Code: "OFFER_UNAVAILABLE", Message: err.Error()})
	case engine.IsValidation(err):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
	default:
		h.Logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return val
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	idStr, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
