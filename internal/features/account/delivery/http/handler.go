package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tapgame-backend/internal/common/errors"
	"tapgame-backend/internal/common/middleware"
	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/service"
)

type AccountHandler struct {
	service service.AccountService
	auth    *middleware.Auth
}

func NewAccountHandler(service service.AccountService, auth *middleware.Auth) *AccountHandler {
	return &AccountHandler{
		service: service,
		auth:    auth,
	}
}

func (h *AccountHandler) RegisterRoutes(router *gin.RouterGroup) {
	accounts := router.Group("/accounts")
	accounts.Use(h.auth.InitData())
	{
		accounts.POST("", h.CreateAccount)
		accounts.GET("", h.auth.RequireAdmin(), h.ListAccounts)

		self := accounts.Group("/:id")
		self.Use(h.auth.RequireSelf("id"))
		{
			self.GET("", h.GetAccount)
			self.POST("/delta", h.ApplyDelta)
			self.POST("/booster", h.PurchaseBooster)
			self.POST("/premium", h.PurchasePremium)
			self.POST("/checkin", h.CheckIn)
			self.POST("/wallet", h.LinkWallet)
			self.POST("/energy/reset", h.ResetEnergy)
		}
		accounts.POST("/:id/progress", h.auth.RequireAdmin(), h.UpdateProgress)
	}

	admin := router.Group("/admin")
	admin.Use(h.auth.InitData(), h.auth.RequireAdmin())
	{
		admin.POST("/energy/reset", h.ResetEnergyForAll)
	}
}

// @Summary Create account
// @Description Creates the player's account. Repeating the call returns the stored account with 200.
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param request body models.CreateAccountRequest true "Account data"
// @Success 201 {object} models.CreateAccountResponse "Created"
// @Success 200 {object} models.CreateAccountResponse "Already exists"
// @Failure 400 {object} middleware.ErrorResponse "Invalid input or referral code"
// @Failure 503 {object} middleware.ErrorResponse "Storage unavailable"
// @Router /accounts [post]
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req models.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("body", err.Error()))
		return
	}
	if err := h.auth.CheckSelf(c, req.PlayerID); err != nil {
		_ = c.Error(err)
		return
	}

	acc, created, err := h.service.CreateAccount(c.Request.Context(), req.PlayerID, req.WalletAddress, req.ReferralCode)
	if err != nil {
		_ = c.Error(ToAppError(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, models.CreateAccountResponse{Account: acc, Created: created})
}

// @Summary List accounts
// @Description Lists accounts ordered by creation time (admin only)
// @Tags accounts
// @Produce json
// @Security TelegramInitData
// @Param limit query int false "Page size (default 100, max 1000)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Account
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Router /accounts [get]
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		_ = c.Error(err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		_ = c.Error(err)
		return
	}

	accounts, err := h.service.ListAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// @Summary Get account
// @Tags accounts
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} middleware.ErrorResponse "Account not found"
// @Router /accounts/{id} [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	acc, err := h.service.GetAccount(c.Request.Context(), c.Param("id"))
	h.respond(c, acc, err)
}

// @Summary Apply delta
// @Description Applies signed increments and absolute sets in one atomic write
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Param request body models.Delta true "Delta"
// @Success 200 {object} models.Account "Post-write account"
// @Failure 400 {object} middleware.ErrorResponse "Invalid delta, insufficient balance or energy, check-in too soon"
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Another wallet is linked"
// @Router /accounts/{id}/delta [post]
func (h *AccountHandler) ApplyDelta(c *gin.Context) {
	var delta models.Delta
	if err := c.ShouldBindJSON(&delta); err != nil {
		_ = c.Error(errors.New(errors.ErrCodeInvalidDelta, "Malformed delta").WithDetail("reason", err.Error()))
		return
	}
	acc, err := h.service.ApplyDelta(c.Request.Context(), c.Param("id"), delta)
	h.respond(c, acc, err)
}

// @Summary Purchase booster
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Param request body models.BoosterRequest true "Booster"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse "Invalid input or insufficient balance"
// @Failure 404 {object} middleware.ErrorResponse
// @Router /accounts/{id}/booster [post]
func (h *AccountHandler) PurchaseBooster(c *gin.Context) {
	var req models.BoosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("body", err.Error()))
		return
	}
	acc, err := h.service.PurchaseBooster(c.Request.Context(), c.Param("id"), req.EnergyGain, req.Price, req.TapGain)
	h.respond(c, acc, err)
}

// @Summary Purchase premium
// @Description Charges the price and enables premium. Already premium accounts are returned without a charge.
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Param request body models.PremiumRequest true "Premium"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /accounts/{id}/premium [post]
func (h *AccountHandler) PurchasePremium(c *gin.Context) {
	var req models.PremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("body", err.Error()))
		return
	}
	acc, err := h.service.PurchasePremium(c.Request.Context(), c.Param("id"), req.Price)
	h.respond(c, acc, err)
}

// @Summary Daily check-in
// @Tags accounts
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse "Check-in too soon"
// @Failure 404 {object} middleware.ErrorResponse
// @Router /accounts/{id}/checkin [post]
func (h *AccountHandler) CheckIn(c *gin.Context) {
	acc, err := h.service.CheckIn(c.Request.Context(), c.Param("id"))
	h.respond(c, acc, err)
}

// @Summary Link wallet
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Param request body models.WalletRequest true "Wallet"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse "Malformed address"
// @Failure 409 {object} middleware.ErrorResponse "Another wallet is linked"
// @Router /accounts/{id}/wallet [post]
func (h *AccountHandler) LinkWallet(c *gin.Context) {
	var req models.WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("address", err.Error()))
		return
	}
	acc, err := h.service.LinkWallet(c.Request.Context(), c.Param("id"), req.Address, req.Relink)
	h.respond(c, acc, err)
}

// @Summary Update progress
// @Description Sets level and total energy and adds perk_increment to the perk count (admin only)
// @Tags accounts
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Param request body models.ProgressRequest true "Progress"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /accounts/{id}/progress [post]
func (h *AccountHandler) UpdateProgress(c *gin.Context) {
	var req models.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("body", err.Error()))
		return
	}
	acc, err := h.service.UpdateProgress(c.Request.Context(), c.Param("id"), req)
	h.respond(c, acc, err)
}

// @Summary Refill energy
// @Tags accounts
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Player ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} middleware.ErrorResponse
// @Router /accounts/{id}/energy/reset [post]
func (h *AccountHandler) ResetEnergy(c *gin.Context) {
	acc, err := h.service.ResetEnergy(c.Request.Context(), c.Param("id"))
	h.respond(c, acc, err)
}

// @Summary Refill energy for every account
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} models.ResetAllResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse
// @Router /admin/energy/reset [post]
func (h *AccountHandler) ResetEnergyForAll(c *gin.Context) {
	n, err := h.service.ResetEnergyForAll(c.Request.Context())
	if err != nil {
		_ = c.Error(ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, models.ResetAllResponse{Updated: n})
}

func (h *AccountHandler) respond(c *gin.Context, acc *models.Account, err error) {
	if stderrors.Is(err, service.ErrNotFound) {
		_ = c.Error(errors.NewAccountNotFoundError(c.Param("id")))
		return
	}
	if err != nil {
		_ = c.Error(ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, acc)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

// ToAppError maps service errors onto response codes.
func ToAppError(err error) *errors.AppError {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}

	var code errors.ErrorCode
	switch {
	case stderrors.Is(err, service.ErrNotFound):
		code = errors.ErrCodeAccountNotFound
	case stderrors.Is(err, service.ErrInvalidInput):
		code = errors.ErrCodeValidation
	case stderrors.Is(err, service.ErrInvalidDelta):
		code = errors.ErrCodeInvalidDelta
	case stderrors.Is(err, service.ErrInvalidReferral):
		code = errors.ErrCodeInvalidReferral
	case stderrors.Is(err, service.ErrInsufficientBalance):
		code = errors.ErrCodeInsufficientBalance
	case stderrors.Is(err, service.ErrInsufficientEnergy):
		code = errors.ErrCodeInsufficientEnergy
	case stderrors.Is(err, service.ErrCheckInTooSoon):
		code = errors.ErrCodeCheckInTooSoon
	case stderrors.Is(err, service.ErrWalletAlreadyLinked):
		code = errors.ErrCodeWalletLinked
	case stderrors.Is(err, service.ErrStorageUnavailable):
		return errors.NewStorageUnavailableError(err)
	default:
		return errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")
	}
	return errors.New(code, err.Error())
}
