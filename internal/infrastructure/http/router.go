package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires the payment API. metrics may be nil.
func NewRouter(serviceName string, handler *PaymentHandler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/health", handler.HealthCheck)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.POST("/instructions", handler.CreateInstruction)
	r.GET("/instructions/:id", handler.GetInstruction)
	r.POST("/instructions/:id/approve", handler.Approve())
	r.POST("/instructions/:id/approve-and-deposit", handler.ApproveAndDeposit())
	r.POST("/instructions/:id/credits", handler.Credit())

	r.POST("/payments/:id/deposit", handler.Deposit())
	r.POST("/payments/:id/reverse-approval", handler.ReverseApproval())
	r.POST("/payments/:id/reverse-deposit", handler.ReverseDeposit())

	r.POST("/credits/:id/reverse", handler.ReverseCredit())

	r.POST("/transactions/:id/resume", handler.Resume)
	r.POST("/transactions/:id/status", handler.UpdateStatus)

	r.GET("/attention", handler.ListAttention)
	r.POST("/attention/:id/ack", handler.AcknowledgeAttention)

	return r
}
