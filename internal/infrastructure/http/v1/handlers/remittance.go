package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appctx "paydesk/internal/core/context"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/infrastructure/http/v1/dto"
	"paydesk/internal/infrastructure/report"
)

// RemittanceHandler lists posted payments awaiting remittance and marks
// them remitted.
type RemittanceHandler struct {
	*BaseHandler
	applications *application.Service
	shopName     string
	now          func() time.Time
}

// NewRemittanceHandler creates a new remittance handler.
func NewRemittanceHandler(base *BaseHandler, applications *application.Service, shopName string) *RemittanceHandler {
	return &RemittanceHandler{
		BaseHandler:  base,
		applications: applications,
		shopName:     shopName,
		now:          time.Now,
	}
}

// ListUnremitted handles GET /remittance/unremitted
func (h *RemittanceHandler) ListUnremitted(c *gin.Context) {
	batch, err := h.applications.ListUnremitted(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Remit handles POST /remittance
func (h *RemittanceHandler) Remit(c *gin.Context) {
	var req dto.RemitRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids, err := req.ParseIDs()
	if err != nil {
		h.Error(c, err)
		return
	}
	n, err := h.applications.Remit(c.Request.Context(), ids, req.RemittedBy)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.RemitResponse{Remitted: n})
}

// Slip handles GET /remittance/slip.pdf and renders the unremitted batch
// as a printable slip.
func (h *RemittanceHandler) Slip(c *gin.Context) {
	ctx := c.Request.Context()

	batch, err := h.applications.ListUnremitted(ctx)
	if err != nil {
		h.Error(c, err)
		return
	}
	at := h.now()
	pdf, err := report.RemittanceSlip(batch, report.SlipHeader{
		ShopName:    h.shopName,
		PreparedBy:  appctx.GetUserName(ctx),
		GeneratedAt: at,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=remittance-%s.pdf", at.Format("20060102-1504")))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
