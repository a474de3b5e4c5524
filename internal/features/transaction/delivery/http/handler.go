package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tapgame-backend/internal/common/errors"
	"tapgame-backend/internal/common/middleware"
	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/service"
)

type TransactionHandler struct {
	service service.TransactionService
	auth    *middleware.Auth
}

func NewTransactionHandler(service service.TransactionService, auth *middleware.Auth) *TransactionHandler {
	return &TransactionHandler{service: service, auth: auth}
}

func (h *TransactionHandler) RegisterRoutes(router *gin.RouterGroup) {
	txs := router.Group("/transactions")
	txs.Use(h.auth.InitData())
	{
		txs.POST("", h.Record)
		txs.GET("/:playerId", h.auth.RequireSelf("playerId"), h.ListByPlayer)
	}
}

// @Summary Record transaction
// @Description Appends a payment transaction to the audit log. Transaction ids are unique.
// @Tags transactions
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param request body models.CreateTransactionRequest true "Transaction"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Duplicate transaction id"
// @Router /transactions [post]
func (h *TransactionHandler) Record(c *gin.Context) {
	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("body", err.Error()))
		return
	}
	if err := h.auth.CheckSelf(c, req.PlayerID); err != nil {
		_ = c.Error(err)
		return
	}

	tx, err := h.service.Record(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// @Summary List player transactions
// @Tags transactions
// @Produce json
// @Security TelegramInitData
// @Param playerId path string true "Player ID"
// @Param limit query int false "Page size (default 50, max 500)"
// @Success 200 {array} models.Transaction
// @Router /transactions/{playerId} [get]
func (h *TransactionHandler) ListByPlayer(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			_ = c.Error(errors.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = v
	}

	txs, err := h.service.ListByPlayer(c.Request.Context(), c.Param("playerId"), limit)
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, txs)
}

func toAppError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, service.ErrInvalidInput):
		return errors.New(errors.ErrCodeValidation, err.Error())
	case stderrors.Is(err, service.ErrDuplicate):
		return errors.New(errors.ErrCodeDuplicateTransaction, err.Error())
	case stderrors.Is(err, service.ErrStorageUnavailable):
		return errors.NewStorageUnavailableError(err)
	default:
		return errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")
	}
}
