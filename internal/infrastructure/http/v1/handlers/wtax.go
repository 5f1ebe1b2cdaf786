package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
)

// WTaxHandler exposes the withholding tax catalog.
type WTaxHandler struct {
	*BaseHandler
	taxTypes *wtax.Service
}

// NewWTaxHandler creates a new withholding tax handler.
func NewWTaxHandler(base *BaseHandler, taxTypes *wtax.Service) *WTaxHandler {
	return &WTaxHandler{BaseHandler: base, taxTypes: taxTypes}
}

type wtaxListResponse struct {
	Items   []wtax.TaxType `json:"items"`
	VATRate types.Money    `json:"vatRate"`
}

// List handles GET /wtax-types
func (h *WTaxHandler) List(c *gin.Context) {
	items, vat, err := h.taxTypes.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	if items == nil {
		items = []wtax.TaxType{}
	}
	c.JSON(http.StatusOK, wtaxListResponse{Items: items, VATRate: vat})
}
