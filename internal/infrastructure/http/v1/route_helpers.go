package v1

import (
	"github.com/gin-gonic/gin"

	"paydesk/internal/infrastructure/http/v1/handlers"
	"paydesk/internal/infrastructure/http/v1/middleware"
)

// RegisterPaymentRoutes registers the payment desk routes on group.
func RegisterPaymentRoutes(group *gin.RouterGroup, h *handlers.PaymentHandler) {
	group.GET("/draft", h.GetActiveDraft)
	group.PUT("/draft", h.SaveDraft)

	drafts := group.Group("/drafts/:id")
	drafts.GET("", h.GetDraft)
	drafts.DELETE("", h.Cancel)
	drafts.PUT("/tax-type", h.ChangeTaxType)
	drafts.POST("/post", h.Post)
	drafts.GET("/applications", h.DraftApplications)

	allocations := drafts.Group("/allocations/:orderId")
	allocations.POST("/toggle", h.ToggleOrder)
	allocations.PUT("", h.SetAllocationAmount)
	allocations.PUT("/withheld", h.SetWithheldAmount)
	allocations.DELETE("", h.DeleteAllocation)

	group.GET("/or-numbers/:orNumber", h.CheckORNumber)
	group.GET("/orders/:orderId/history", h.OrderHistory)
	group.POST("/orders/:orderId/recalculate", h.RecalculateAmountPaid)
	group.GET("/totals", h.Totals)
}

// RegisterRemittanceRoutes registers the remittance routes. Marking
// payments remitted requires remitRole when it is set.
func RegisterRemittanceRoutes(group *gin.RouterGroup, h *handlers.RemittanceHandler, remitRole string) {
	group.GET("/unremitted", h.ListUnremitted)
	group.GET("/slip.pdf", h.Slip)
	group.POST("", middleware.RequireRole(remitRole), h.Remit)
}
