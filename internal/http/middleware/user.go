package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yungbote/mailscope-backend/internal/http/response"
)

const userIDKey = "userID"

// RequireUser resolves the acting user from the X-User-ID header set by the
// gateway in front of this service. Requests without a valid id are rejected.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			response.RespondError(c, http.StatusUnauthorized, "missing_user", errors.New("X-User-ID header required"))
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusUnauthorized, "invalid_user", err)
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the user id stored by RequireUser.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
