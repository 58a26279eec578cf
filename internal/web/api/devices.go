package api

import (
	"net/http"

	"homeassist/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// RegisterDeviceRoutes exposes the cached device states
func RegisterDeviceRoutes(r gin.IRouter, deps Dependencies) {
	logger := deps.logger()

	r.GET("/devices/states", func(c *gin.Context) {
		states, err := deps.States.GetStates(c.Request.Context())
		if err != nil {
			writeError(c, logger, &scheduler.UnavailableError{Collaborator: "device state reader", Err: err})
			return
		}
		c.JSON(http.StatusOK, states)
	})
}
