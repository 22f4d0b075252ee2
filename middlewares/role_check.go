package middlewares

import (
	"github.com/gin-gonic/gin"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// RequireRole gates a route group to one role. Admin does not imply parent:
// a delivery admin has no business reading a family's children.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("role")
		if !exists {
			utils.RespondAppError(c, utils.NewAuthError("Unauthorized"))
			c.Abort()
			return
		}

		switch role {
		case models.RoleAdmin:
			if userRole != models.RoleAdmin {
				utils.RespondAppError(c, utils.NewForbiddenError("Admin access required"))
				c.Abort()
				return
			}
		case models.RoleParent:
			if userRole != models.RoleParent {
				utils.RespondAppError(c, utils.NewForbiddenError("Parent access required"))
				c.Abort()
				return
			}
		}

		c.Next()
	}
}
