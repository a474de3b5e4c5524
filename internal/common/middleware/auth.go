package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tapgame-backend/internal/common/errors"
)

func (a *Auth) isAdmin(userID int64) bool {
	_, ok := a.admins[userID]
	return ok
}

// CheckSelf allows the request when playerID is the authenticated Telegram
// user or the user is an admin.
func (a *Auth) CheckSelf(c *gin.Context, playerID string) error {
	if !a.Enabled() {
		return nil
	}
	userID := GetUserID(c)
	if userID == 0 {
		return errors.NewUnauthorizedError("Telegram init data required")
	}
	if a.isAdmin(userID) || strconv.FormatInt(userID, 10) == playerID {
		return nil
	}
	return errors.NewForbiddenError("player id does not match the authenticated user").
		WithDetail("player_id", playerID)
}

// RequireSelf applies CheckSelf to the named path parameter.
func (a *Auth) RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.CheckSelf(c, c.Param(param)); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		userID := GetUserID(c)
		if userID == 0 {
			abort(c, errors.NewUnauthorizedError("Telegram init data required"))
			return
		}
		if !a.isAdmin(userID) {
			abort(c, errors.NewForbiddenError("admin access required"))
			return
		}
		c.Next()
	}
}
