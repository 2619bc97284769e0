// Package httpapi is the HTTP façade over the credit ledger. Paid
// operation orchestrators call the service-token endpoints, the
// billing processor delivers signed webhooks, and display surfaces
// read balances with a session cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/creativeai-labs/creditledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	eventTopupCompleted      = "topup.completed"
	eventSubscriptionCreated = "subscription.created"
	eventSubscriptionRenewed = "subscription.renewed"
)

// ledgerService is the slice of *ledger.Service the façade depends on.
type ledgerService interface {
	OpenAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error)
	Deduct(ctx context.Context, userID ledger.UserID, amount ledger.Credits, kind ledger.Kind, description string, referenceID ledger.ReferenceID) (ledger.Credits, error)
	Refund(ctx context.Context, userID ledger.UserID, amount ledger.Credits, description string, referenceID ledger.ReferenceID) (ledger.Credits, error)
	GrantTopup(ctx context.Context, userID ledger.UserID, amount ledger.Credits, referenceID ledger.ReferenceID) (ledger.Credits, error)
	RunBillingCycle(ctx context.Context, userID ledger.UserID) error
	ChangePlan(ctx context.Context, userID ledger.UserID, plan ledger.Plan) error
	GetBalance(ctx context.Context, userID ledger.UserID) (ledger.Breakdown, error)
	ListTransactions(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error)
}

// Run boots the HTTP façade and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, service ledgerService, logger *zap.Logger, metricsHandler http.Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}
	router := setupRouter(cfg, handler, metricsHandler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("creditd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, metricsHandler http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	session := router.Group("/api/credits")
	session.Use(sessionMiddleware(cfg))
	session.GET("/balance", handler.handleBalance)
	session.GET("/transactions", handler.handleTransactions)

	internal := router.Group("/api")
	internal.Use(serviceTokenMiddleware(cfg))
	internal.POST("/accounts", handler.handleOpenAccount)
	internal.POST("/internal/credits/deduct", handler.handleDeduct)
	internal.POST("/internal/credits/refund", handler.handleRefund)
	internal.POST("/internal/credits/cycle", handler.handleRunCycle)

	router.POST("/api/webhooks/billing", handler.handleBillingWebhook)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service ledgerService
	cfg     Config
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.requireSessionUser(ctx)
	if !ok {
		return
	}
	breakdown, err := handler.service.GetBalance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balancePayloadFrom(breakdown)})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := handler.requireSessionUser(ctx)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var before int64
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}

	transactions, err := handler.service.ListTransactions(ctx.Request.Context(), userID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayloadFrom(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "user_id is required"))
		return
	}
	account, err := handler.service.OpenAccount(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (handler *httpHandler) handleDeduct(ctx *gin.Context) {
	var request deductRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "user_id is required"))
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be greater than zero"))
		return
	}
	kind, err := ledger.ParseKind(request.Kind)
	if err != nil || !kind.IsSpend() {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_kind", "kind must be a spend kind"))
		return
	}
	referenceID, ok := optionalReference(ctx, request.ReferenceID)
	if !ok {
		return
	}

	balanceAfter, err := handler.service.Deduct(ctx.Request.Context(), userID, amount, kind, request.Description, referenceID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_after": balanceAfter.Int64()})
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "user_id is required"))
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be greater than zero"))
		return
	}
	referenceID, ok := optionalReference(ctx, request.ReferenceID)
	if !ok {
		return
	}

	balanceAfter, err := handler.service.Refund(ctx.Request.Context(), userID, amount, request.Description, referenceID)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		ctx.JSON(http.StatusOK, gin.H{"status": "duplicate", "balance_after": balanceAfter.Int64()})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_after": balanceAfter.Int64()})
}

// handleRunCycle lets an external scheduler apply the monthly grant
// for accounts without a subscription renewal event, such as the
// free-plan reset. Reruns inside the current period resolve to 200 so
// the scheduler treats redelivery as done.
func (handler *httpHandler) handleRunCycle(ctx *gin.Context) {
	var request cycleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "user_id is required"))
		return
	}
	err = handler.service.RunBillingCycle(ctx.Request.Context(), userID)
	if errors.Is(err, ledger.ErrCycleAlreadyRun) {
		ctx.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// handleBillingWebhook verifies the processor signature over the raw
// body and dispatches by event type. Redelivered events resolve to 200
// so the processor stops retrying.
func (handler *httpHandler) handleBillingWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	if !verifyWebhookSignature(handler.cfg.WebhookSecret, body, ctx.GetHeader(headerSignature)) {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
		return
	}

	var event billingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(event.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", "user_id is required"))
		return
	}

	switch event.Type {
	case eventTopupCompleted:
		handler.processTopup(ctx, userID, event)
	case eventSubscriptionCreated:
		handler.processSubscription(ctx, userID, event, true)
	case eventSubscriptionRenewed:
		handler.processSubscription(ctx, userID, event, false)
	default:
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (handler *httpHandler) processTopup(ctx *gin.Context, userID ledger.UserID, event billingEvent) {
	amount, err := ledger.NewCredits(event.Credits)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "credits must be greater than zero"))
		return
	}
	referenceID, err := ledger.NewReferenceID(event.SessionID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_session_id", "session_id is required"))
		return
	}
	balanceAfter, err := handler.service.GrantTopup(ctx.Request.Context(), userID, amount, referenceID)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		ctx.JSON(http.StatusOK, gin.H{"status": "duplicate", "balance_after": balanceAfter.Int64()})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed", "balance_after": balanceAfter.Int64()})
}

func (handler *httpHandler) processSubscription(ctx *gin.Context, userID ledger.UserID, event billingEvent, planChange bool) {
	if planChange {
		plan, err := ledger.ParsePlan(event.Plan)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_plan", "unknown plan"))
			return
		}
		if err := handler.service.ChangePlan(ctx.Request.Context(), userID, plan); err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	err := handler.service.RunBillingCycle(ctx.Request.Context(), userID)
	if errors.Is(err, ledger.ErrCycleAlreadyRun) {
		ctx.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (handler *httpHandler) requireSessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	raw := sessionUserID(ctx)
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	return userID, true
}

// respondError maps domain errors onto HTTP statuses. Wrapped store
// failures surface as 503 so callers retry.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credits", "balance does not cover the requested amount"))
	case errors.Is(err, ledger.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("account_not_found", "no credit account for user"))
	case errors.Is(err, ledger.ErrAccountExists):
		ctx.JSON(http.StatusConflict, errorResponse("account_exists", "credit account already exists"))
	case errors.Is(err, ledger.ErrDuplicateReference):
		ctx.JSON(http.StatusConflict, errorResponse("duplicate_reference", "reference id already recorded"))
	case errors.Is(err, ledger.ErrInvalidCredits),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, ledger.ErrInvalidPlan),
		errors.Is(err, ledger.ErrInvalidUserID),
		errors.Is(err, ledger.ErrInvalidReferenceID):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("ledger call failed", zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("store_unavailable", "ledger temporarily unavailable"))
	}
}

func optionalReference(ctx *gin.Context, raw string) (ledger.ReferenceID, bool) {
	if raw == "" {
		return ledger.NoReference(), true
	}
	referenceID, err := ledger.NewReferenceID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_reference_id", "reference_id must be non-empty when present"))
		return ledger.ReferenceID{}, false
	}
	return referenceID, true
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
