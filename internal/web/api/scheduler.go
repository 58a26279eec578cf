package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterSchedulerRoutes(r gin.IRouter, deps Dependencies) {
	r.GET("/scheduler/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Scheduler.Statistics())
	})
}
