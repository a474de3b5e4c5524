package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"tapgame-backend/internal/common/errors"
	"tapgame-backend/internal/common/logger"
)

const (
	InitDataHeader       = "X-Telegram-Init-Data"
	InitDataLegacyHeader = "init_data"
	userKey              = "user"
)

// Auth validates Telegram Mini App init data. With an empty bot token it is
// disabled and every request is trusted.
type Auth struct {
	botToken string
	ttl      time.Duration
	admins   map[int64]struct{}
}

func NewAuth(botToken string, ttl time.Duration, adminIDs []int64) *Auth {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Auth{botToken: botToken, ttl: ttl, admins: admins}
}

func (a *Auth) Enabled() bool {
	return a != nil && a.botToken != ""
}

// InitData validates the init data header and binds the Telegram user.
func (a *Auth) InitData() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		raw := c.GetHeader(InitDataHeader)
		if raw == "" {
			raw = c.GetHeader(InitDataLegacyHeader)
		}
		if raw == "" {
			abort(c, errors.NewUnauthorizedError("Telegram init data required"))
			return
		}

		if err := initdata.Validate(raw, a.botToken, a.ttl); err != nil {
			logger.Debug().Err(err).Msg("Init data validation failed")
			abort(c, errors.NewUnauthorizedError("invalid init data"))
			return
		}

		parsed, err := initdata.Parse(raw)
		if err != nil {
			abort(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Failed to parse init data"))
			return
		}

		c.Set(userKey, parsed.User)
		c.Set(userIDKey, parsed.User.ID)
		c.Next()
	}
}

func abort(c *gin.Context, appErr *errors.AppError) {
	_ = c.Error(appErr)
	c.Abort()
}
