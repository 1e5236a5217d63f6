package admin

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/parley/internal/meta"
)

// NewRouter builds the read-only HTTP status surface. It reports on the
// relay; it never injects traffic into it.
func NewRouter(roster *RosterDoc, debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs through the given zap logger.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, meta.GetInfo())
	})

	r.GET("/roster", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", roster.Bytes())
	})

	r.GET("/roster/:handle", func(c *gin.Context) {
		entry := roster.Get("clients." + escapePath(c.Param("handle")))
		if !entry.Exists() {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such client"})
			return
		}

		c.Data(http.StatusOK, "application/json", []byte(entry.Raw))
	})

	return r
}
