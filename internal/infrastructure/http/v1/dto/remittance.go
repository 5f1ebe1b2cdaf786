package dto

import (
	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/domain/registers/application"
)

// RemitRequest marks the listed applications as remitted.
type RemitRequest struct {
	IDs        []string `json:"ids" binding:"required,min=1"`
	RemittedBy string   `json:"remittedBy" binding:"required"`
}

// ParseIDs converts the string ids.
func (r *RemitRequest) ParseIDs() ([]id.ID, error) {
	ids, err := id.ParseList(r.IDs)
	if err != nil {
		return nil, apperror.NewInvalidInput("ids", "invalid id format")
	}
	return ids, nil
}

// RemitResponse reports how many applications were remitted.
type RemitResponse struct {
	Remitted int `json:"remitted"`
}

// TotalsQuery filters the per pay type summary.
type TotalsQuery struct {
	Remitted *bool  `form:"remitted"`
	DateFrom string `form:"dateFrom"`
	DateTo   string `form:"dateTo"`
}

// ToFilter converts the query into a register filter.
func (q *TotalsQuery) ToFilter() (application.TotalsFilter, error) {
	from, err := ParseDate("dateFrom", q.DateFrom)
	if err != nil {
		return application.TotalsFilter{}, err
	}
	to, err := ParseDate("dateTo", q.DateTo)
	if err != nil {
		return application.TotalsFilter{}, err
	}
	return application.TotalsFilter{Remitted: q.Remitted, DateFrom: from, DateTo: to}, nil
}

// TotalsResponse lists totals per pay type.
type TotalsResponse struct {
	Items []application.PayTypeTotal `json:"items"`
}

// ApplicationsResponse lists register rows.
type ApplicationsResponse struct {
	Items []application.PaymentApplication `json:"items"`
}

// NewApplicationsResponse never renders a null list.
func NewApplicationsResponse(apps []application.PaymentApplication) ApplicationsResponse {
	if apps == nil {
		apps = []application.PaymentApplication{}
	}
	return ApplicationsResponse{Items: apps}
}
