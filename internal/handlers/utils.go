package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HTTPUserInfo struct {
	UserID string
	Token  string
}

// ExtractUserInfo reads what AuthMiddleware stored. It writes a 401 and
// returns false for anonymous requests.
func ExtractUserInfo(c *gin.Context) (HTTPUserInfo, bool) {
	userID := c.GetString(CtxUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User not authenticated"})
		return HTTPUserInfo{}, false
	}
	return HTTPUserInfo{UserID: userID, Token: c.GetString(CtxToken)}, true
}
