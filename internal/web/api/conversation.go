package api

import (
	"errors"
	"net/http"

	"homeassist/internal/models"
	webModels "homeassist/internal/web/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterConversationRoutes mounts the dialogue endpoint. Utterances the
// automation dialogue does not consume go to the command pipeline when one
// is configured.
func RegisterConversationRoutes(r gin.IRouter, deps Dependencies) {
	logger := deps.logger()

	r.POST("/conversation", func(c *gin.Context) {
		var req webModels.ConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()

		reply, err := deps.Conversations.HandleTurn(ctx, req.ConversationID, req.Utterance)
		resp := webModels.ConversationResponse{
			ConversationID: reply.ConversationID,
			Response:       reply.Response,
			Consumed:       reply.Consumed,
			State:          string(reply.State),
			Automation:     reply.Automation,
		}
		if err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{
					"conversation_id": resp.ConversationID,
					"response":        resp.Response,
					"consumed":        resp.Consumed,
					"state":           resp.State,
					"error":           verr.Error(),
					"field":           verr.Field,
				})
				return
			}
			writeError(c, logger, err)
			return
		}

		if !reply.Consumed && deps.Pipeline != nil {
			out, err := deps.Pipeline.Run(ctx, req.Utterance)
			if err != nil {
				logger.Warn("command pipeline failed", zap.String("conversation_id", reply.ConversationID), zap.Error(err))
				c.JSON(http.StatusBadGateway, webModels.ErrorResponse{Error: "Command pipeline unavailable"})
				return
			}
			resp.Response = out
		}
		c.JSON(http.StatusOK, resp)
	})
}
