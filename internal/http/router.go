package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"tapgame-backend/internal/common/config"
	"tapgame-backend/internal/common/metrics"
	"tapgame-backend/internal/common/middleware"
	accountHTTP "tapgame-backend/internal/features/account/delivery/http"
	accountService "tapgame-backend/internal/features/account/service"
	txHTTP "tapgame-backend/internal/features/transaction/delivery/http"
	txService "tapgame-backend/internal/features/transaction/service"
)

const serviceName = "tapgame-backend"

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs to mount the API.
type Deps struct {
	Config       *config.Config
	Accounts     accountService.AccountService
	Transactions txService.TransactionService
	Auth         *middleware.Auth
	Metrics      *metrics.Metrics
	// Checks run on /ready, keyed by dependency name.
	Checks map[string]HealthCheck
}

// NewRouter builds the gin engine with middlewares and routes wired.
func NewRouter(d Deps) *gin.Engine {
	if !d.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(d.Metrics.Middleware())
	router.Use(middleware.ErrorHandler())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{d.Config.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.InitDataHeader, middleware.InitDataLegacyHeader, middleware.RequestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	accountHTTP.NewAccountHandler(d.Accounts, d.Auth).RegisterRoutes(v1)
	if d.Transactions != nil {
		txHTTP.NewTransactionHandler(d.Transactions, d.Auth).RegisterRoutes(v1)
	}

	registerProbes(router, d.Checks)
	router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}

func registerProbes(router *gin.Engine, checks map[string]HealthCheck) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})

	router.GET("/live", func(c *gin.Context) {
		c.Status(nethttp.StatusOK)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(nethttp.StatusServiceUnavailable, gin.H{
					"status":  "unready",
					"error":   name + " unavailable",
					"details": err.Error(),
				})
				return
			}
		}

		c.JSON(nethttp.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})
}
