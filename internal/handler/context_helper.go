package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync-api/internal/middleware"
	"github.com/noah-isme/classroom-sync-api/internal/service"
)

func viewRequest(c *gin.Context) (service.ViewRequest, bool) {
	claims := middleware.SessionFromContext(c)
	if claims == nil || claims.UserID == "" {
		return service.ViewRequest{}, false
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	return service.ViewRequest{UserID: claims.UserID, Force: force}, true
}

// listQuery reads a comma-separated query parameter, also accepting the
// parameter repeated.
func listQuery(c *gin.Context, name string) []string {
	var values []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				values = append(values, trimmed)
			}
		}
	}
	return values
}
