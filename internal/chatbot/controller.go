package chatbot

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"poerelay/internal/logging"
	"poerelay/internal/observability"
	"poerelay/internal/sse"
)

type ChatController struct {
	chatService Service
	metrics     *observability.Metrics
}

// NewChatController wires the Poe endpoints to the chat service. metrics may
// be nil.
func NewChatController(chatService Service, metrics *observability.Metrics) *ChatController {
	return &ChatController{chatService: chatService, metrics: metrics}
}

// Health answers Poe's liveness check.
func (cc *ChatController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleQuery dispatches a Poe request. Queries are answered as an SSE
// stream; every other request type is acknowledged.
func (cc *ChatController) HandleQuery(c *gin.Context) {
	var request QueryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.metrics.RecordRequest("unknown", "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if request.Type != TypeQuery {
		logging.FromContext(c.Request.Context()).Info("acknowledged request", "type", request.Type)
		cc.metrics.RecordRequest(request.Type, "ok")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	cc.stream(c, request)
}

func (cc *ChatController) stream(c *gin.Context, request QueryRequest) {
	ctx := c.Request.Context()
	logger := logging.FromContext(ctx)

	sse.SetHeaders(c.Writer)
	c.Status(http.StatusOK)
	em := sse.NewEmitter(c.Writer, sse.WithObserver(cc.metrics.RecordEvent))

	finish := cc.metrics.StreamStarted()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while streaming", "panic", fmt.Sprint(r))
			outcome = string(ErrorInternal)
			if !em.Closed() {
				_ = em.Error(newError(ErrorInternal, "panic", nil).UserMessage())
			}
		}
		if err := em.Close(); err != nil {
			logger.Warn("closing stream", "err", err)
		}
		finish(outcome)
		cc.metrics.RecordRequest(TypeQuery, outcome)
	}()

	if err := cc.chatService.StreamChatResponse(ctx, request, em); err != nil {
		outcome = string(classify(err).Code)
		var e *Error
		if errors.As(err, &e) && e.Code == ErrorCanceled {
			logger.Info("client disconnected during streaming")
		}
		return
	}
	logger.Info("request handled successfully")
}

func (cc *ChatController) RegisterRoutes(router gin.IRoutes, authMiddleware ...gin.HandlerFunc) {
	router.GET("/", cc.Health)
	router.POST("/", append(authMiddleware, cc.HandleQuery)...)
}
