package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"homeassist/internal/automation"
	webModels "homeassist/internal/web/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RegisterAutomationRoutes mounts the automation CRUD endpoints on r
func RegisterAutomationRoutes(r gin.IRouter, deps Dependencies) {
	logger := deps.logger()
	automations := r.Group("/automations")
	{
		automations.GET("", func(c *gin.Context) {
			enabledOnly, _ := strconv.ParseBool(c.Query("enabled"))
			list, err := deps.Store.List(c.Request.Context(), enabledOnly)
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, list)
		})

		automations.POST("", func(c *gin.Context) {
			var req webModels.CreateAutomationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			a, err := deps.Store.Create(c.Request.Context(), req.ToNewAutomation())
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusCreated, a)
		})

		automations.GET("/:id", func(c *gin.Context) {
			a, err := deps.Store.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		automations.PATCH("/:id", func(c *gin.Context) {
			var req webModels.UpdateAutomationRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			a, err := deps.Store.Update(c.Request.Context(), c.Param("id"), req.ToPatch())
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		automations.DELETE("/:id", func(c *gin.Context) {
			if err := deps.Store.Delete(c.Request.Context(), c.Param("id")); err != nil {
				writeError(c, logger, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		automations.POST("/:id/toggle", func(c *gin.Context) {
			var req webModels.ToggleRequest
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				badRequest(c, err)
				return
			}
			ctx := c.Request.Context()
			enabled := req.Enabled
			if enabled == nil {
				current, err := deps.Store.Get(ctx, c.Param("id"))
				if err != nil {
					writeError(c, logger, err)
					return
				}
				flipped := !current.Enabled
				enabled = &flipped
			}
			a, err := deps.Store.SetEnabled(ctx, c.Param("id"), *enabled)
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, a)
		})

		automations.POST("/:id/run", func(c *gin.Context) {
			ctx := c.Request.Context()
			id := c.Param("id")
			async, _ := strconv.ParseBool(c.Query("async"))

			if async && deps.Enqueuer != nil {
				if _, err := deps.Store.Get(ctx, id); err != nil {
					writeError(c, logger, err)
					return
				}
				taskID, err := deps.Enqueuer.EnqueueRun(ctx, id)
				if err != nil {
					writeError(c, logger, err)
					return
				}
				c.JSON(http.StatusAccepted, webModels.RunResponse{AutomationID: id, Queued: true, TaskID: taskID})
				return
			}

			// a run that has started finishes and is recorded even if the client goes away
			res, err := deps.Runner.RunNow(context.WithoutCancel(ctx), id)
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, webModels.RunResponse{AutomationID: id, Result: &res})
		})

		automations.GET("/:id/runs", func(c *gin.Context) {
			limit := defaultRunsLimit
			if raw := c.Query("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "limit must be a positive integer", Field: "limit"})
					return
				}
				limit = min(n, maxRunsLimit)
			}
			ctx := c.Request.Context()
			if _, err := deps.Store.Get(ctx, c.Param("id")); err != nil {
				writeError(c, logger, err)
				return
			}
			runs, err := deps.Store.ListRuns(ctx, c.Param("id"), limit)
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, runs)
		})

		automations.GET("/:id/next", func(c *gin.Context) {
			a, err := deps.Store.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				writeError(c, logger, err)
				return
			}
			resp := webModels.NextRunResponse{AutomationID: a.ID}
			if a.Enabled {
				next, ok, err := automation.NextRun(a.Trigger, time.Now(), deps.Location)
				if err != nil {
					writeError(c, logger, err)
					return
				}
				if ok {
					ts := next.Format(time.RFC3339)
					resp.NextRun = &ts
				}
			}
			c.JSON(http.StatusOK, resp)
		})
	}
}
