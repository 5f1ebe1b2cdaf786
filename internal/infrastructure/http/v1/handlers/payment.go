package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/infrastructure/http/v1/dto"
)

// PaymentHandler serves the payment desk: draft header, allocations,
// posting and per-order history.
type PaymentHandler struct {
	*BaseHandler
	payments     *payment.Service
	applications *application.Service
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(base *BaseHandler, payments *payment.Service, applications *application.Service) *PaymentHandler {
	return &PaymentHandler{BaseHandler: base, payments: payments, applications: applications}
}

// GetActiveDraft handles GET /payments/draft
// An operator without an open draft gets {"draft": null}.
func (h *PaymentHandler) GetActiveDraft(c *gin.Context) {
	view, err := h.payments.GetActiveDraft(c.Request.Context())
	if err != nil && !apperror.IsNotFound(err) {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDraftView(view))
}

// SaveDraft handles PUT /payments/draft
func (h *PaymentHandler) SaveDraft(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SaveDraftRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	draft, err := h.payments.SaveDraft(ctx, in)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.SaveDraftResponse{Draft: draft}
	if draft.ORNumber != "" {
		dup, err := h.payments.CheckORNumber(ctx, draft.ORNumber, draft.ID)
		if err != nil {
			h.Error(c, err)
			return
		}
		resp.DuplicateORNumber = dup
	}
	h.OK(c, resp)
}

// GetDraft handles GET /payments/drafts/:id
func (h *PaymentHandler) GetDraft(c *gin.Context) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	view, err := h.payments.GetDraft(c.Request.Context(), draftID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDraftView(view))
}

// ToggleOrder handles POST /payments/drafts/:id/allocations/:orderId/toggle
func (h *PaymentHandler) ToggleOrder(c *gin.Context) {
	draftID, orderID, ok := h.allocationParams(c)
	if !ok {
		return
	}
	var req dto.ToggleOrderRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}

	res, err := h.payments.ToggleOrder(c.Request.Context(), draftID, payment.OrderRef{
		OrderID:    orderID,
		Balance:    req.Balance,
		GrandTotal: req.GrandTotal,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// SetAllocationAmount handles PUT /payments/drafts/:id/allocations/:orderId
func (h *PaymentHandler) SetAllocationAmount(c *gin.Context) {
	draftID, orderID, ok := h.allocationParams(c)
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.payments.SetAllocationAmount(c.Request.Context(), draftID, orderID, req.Amount)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// SetWithheldAmount handles PUT /payments/drafts/:id/allocations/:orderId/withheld
func (h *PaymentHandler) SetWithheldAmount(c *gin.Context) {
	draftID, orderID, ok := h.allocationParams(c)
	if !ok {
		return
	}
	var req dto.AmountRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.payments.SetWithheldAmount(c.Request.Context(), draftID, orderID, req.Amount)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// DeleteAllocation handles DELETE /payments/drafts/:id/allocations/:orderId
func (h *PaymentHandler) DeleteAllocation(c *gin.Context) {
	draftID, orderID, ok := h.allocationParams(c)
	if !ok {
		return
	}
	summary, err := h.payments.DeleteAllocation(c.Request.Context(), draftID, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}

// ChangeTaxType handles PUT /payments/drafts/:id/tax-type
func (h *PaymentHandler) ChangeTaxType(c *gin.Context) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ChangeTaxTypeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.payments.ChangeTaxType(c.Request.Context(), draftID, req.WTaxCode)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Post handles POST /payments/drafts/:id/post
func (h *PaymentHandler) Post(c *gin.Context) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.PostRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}
	res, err := h.payments.Post(c.Request.Context(), draftID, req.ConfirmPartial)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Cancel handles DELETE /payments/drafts/:id
func (h *PaymentHandler) Cancel(c *gin.Context) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.payments.Cancel(c.Request.Context(), draftID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// CheckORNumber handles GET /payments/or-numbers/:orNumber
// The optional excludeDraftId query skips the operator's own draft.
func (h *PaymentHandler) CheckORNumber(c *gin.Context) {
	orNumber := c.Param("orNumber")
	var exclude id.ID
	if raw := c.Query("excludeDraftId"); raw != "" {
		v, err := id.Parse(raw)
		if err != nil {
			h.Error(c, apperror.NewInvalidInput("excludeDraftId", "invalid id format"))
			return
		}
		exclude = v
	}
	exists, err := h.payments.CheckORNumber(c.Request.Context(), orNumber, exclude)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ORNumberResponse{ORNumber: orNumber, Exists: exists})
}

// DraftApplications handles GET /payments/drafts/:id/applications
func (h *PaymentHandler) DraftApplications(c *gin.Context) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	apps, err := h.applications.ListByPayment(c.Request.Context(), draftID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewApplicationsResponse(apps))
}

// OrderHistory handles GET /payments/orders/:orderId/history
func (h *PaymentHandler) OrderHistory(c *gin.Context) {
	orderID, ok := h.ParseOrderID(c, "orderId")
	if !ok {
		return
	}
	apps, err := h.applications.History(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewApplicationsResponse(apps))
}

// RecalculateAmountPaid handles POST /payments/orders/:orderId/recalculate
func (h *PaymentHandler) RecalculateAmountPaid(c *gin.Context) {
	orderID, ok := h.ParseOrderID(c, "orderId")
	if !ok {
		return
	}
	paid, err := h.applications.RecalculateAmountPaid(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.RecalculateResponse{OrderID: orderID, AmountPaid: paid})
}

// Totals handles GET /payments/totals
func (h *PaymentHandler) Totals(c *gin.Context) {
	var q dto.TotalsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	totals, err := h.applications.Totals(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	if totals == nil {
		totals = []application.PayTypeTotal{}
	}
	c.JSON(http.StatusOK, dto.TotalsResponse{Items: totals})
}

func (h *PaymentHandler) allocationParams(c *gin.Context) (id.ID, int64, bool) {
	draftID, ok := h.ParseID(c, "id")
	if !ok {
		return id.ID{}, 0, false
	}
	orderID, ok := h.ParseOrderID(c, "orderId")
	if !ok {
		return id.ID{}, 0, false
	}
	return draftID, orderID, true
}
