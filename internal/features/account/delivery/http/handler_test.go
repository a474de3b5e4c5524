package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapgame-backend/internal/common/errors"
	"tapgame-backend/internal/common/middleware"
	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository/memory"
	"tapgame-backend/internal/features/account/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	svc, err := service.NewAccountService(memory.NewRepository(), service.Options{
		StartingEnergy:       100,
		StartingLevel:        1,
		CheckInCooldown:      24 * time.Hour,
		CheckInRewardBalance: 10,
		CheckInRewardSpins:   1,
		ReferralBonusField:   models.FieldBalance,
		ReferralBonusAmount:  50,
		StoreTimeout:         time.Second,
		CodeCacheSize:        16,
	}, nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	NewAccountHandler(svc, middleware.NewAuth("", time.Hour, nil)).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	return resp.Error.Code
}

func TestCreateAccount_StatusReflectsCreation(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{PlayerID: "7"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp models.CreateAccountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, "7", resp.Account.ID)

	w = do(router, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{PlayerID: "7"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Created)

	w = do(router, http.MethodPost, "/api/v1/accounts", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeValidation, errorCode(t, w))

	w = do(router, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{PlayerID: "8", ReferralCode: "MISSING"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrCodeInvalidReferral, errorCode(t, w))
}

func TestAccountEndpoints_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{PlayerID: "7"}).Code)

	wallet1 := "0:" + fmt.Sprintf("%064x", 1)
	wallet2 := "0:" + fmt.Sprintf("%064x", 2)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/accounts/7/wallet", models.WalletRequest{Address: wallet1}).Code)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/accounts/7/checkin", nil).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   errors.ErrorCode
	}{
		{"missing account", http.MethodGet, "/api/v1/accounts/404", nil, http.StatusNotFound, errors.ErrCodeAccountNotFound},
		{"overspend", http.MethodPost, "/api/v1/accounts/7/delta", models.Delta{Balance: -1000}, http.StatusBadRequest, errors.ErrCodeInsufficientBalance},
		{"energy underflow", http.MethodPost, "/api/v1/accounts/7/delta", models.Delta{Energy: -1000}, http.StatusBadRequest, errors.ErrCodeInsufficientEnergy},
		{"empty delta", http.MethodPost, "/api/v1/accounts/7/delta", models.Delta{}, http.StatusBadRequest, errors.ErrCodeInvalidDelta},
		{"malformed delta", http.MethodPost, "/api/v1/accounts/7/delta", map[string]string{"balance": "lots"}, http.StatusBadRequest, errors.ErrCodeInvalidDelta},
		{"check-in too soon", http.MethodPost, "/api/v1/accounts/7/checkin", nil, http.StatusBadRequest, errors.ErrCodeCheckInTooSoon},
		{"other wallet", http.MethodPost, "/api/v1/accounts/7/wallet", models.WalletRequest{Address: wallet2}, http.StatusConflict, errors.ErrCodeWalletLinked},
		{"bad wallet", http.MethodPost, "/api/v1/accounts/7/wallet", models.WalletRequest{Address: "nope"}, http.StatusBadRequest, errors.ErrCodeValidation},
		{"booster without gain", http.MethodPost, "/api/v1/accounts/7/booster", models.BoosterRequest{Price: 1, TapGain: 1}, http.StatusBadRequest, errors.ErrCodeValidation},
		{"negative offset", http.MethodGet, "/api/v1/accounts?offset=-1", nil, http.StatusBadRequest, errors.ErrCodeValidation},
		{"bad limit", http.MethodGet, "/api/v1/accounts?limit=ten", nil, http.StatusBadRequest, errors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestAccountEndpoints_HappyPath(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/api/v1/accounts", models.CreateAccountRequest{PlayerID: "7"}).Code)

	w := do(router, http.MethodPost, "/api/v1/accounts/7/delta", models.Delta{Balance: 100, Energy: -10, Spin: 2})
	require.Equal(t, http.StatusOK, w.Code)
	var acc models.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, int64(100), acc.Balance)
	assert.Equal(t, int64(90), acc.AvailableEnergy)
	assert.Equal(t, int64(2), acc.SpinCount)

	w = do(router, http.MethodPost, "/api/v1/accounts/7/booster", models.BoosterRequest{EnergyGain: 20, Price: 60, TapGain: 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, int64(40), acc.Balance)
	assert.Equal(t, int64(120), acc.TotalEnergy)
	assert.Equal(t, int64(2), acc.TapPower)

	w = do(router, http.MethodPost, "/api/v1/accounts/7/premium", models.PremiumRequest{Price: 40})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.True(t, acc.Premium)
	assert.Zero(t, acc.Balance)

	level := int64(3)
	w = do(router, http.MethodPost, "/api/v1/accounts/7/progress", models.ProgressRequest{Level: &level, PerkIncrement: 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, int64(3), acc.Level)
	assert.Equal(t, int64(1), acc.PerkCount)

	w = do(router, http.MethodPost, "/api/v1/accounts/7/energy/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acc))
	assert.Equal(t, acc.TotalEnergy, acc.AvailableEnergy)

	w = do(router, http.MethodPost, "/api/v1/admin/energy/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reset models.ResetAllResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reset))
	assert.Zero(t, reset.Updated)

	w = do(router, http.MethodGet, "/api/v1/accounts?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", service.ErrInvalidInput), http.StatusBadRequest},
		{service.ErrInsufficientBalance, http.StatusBadRequest},
		{service.ErrWalletAlreadyLinked, http.StatusConflict},
		{fmt.Errorf("%w: op", service.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, ToAppError(tt.err).HTTPStatus(), tt.err.Error())
	}
}
