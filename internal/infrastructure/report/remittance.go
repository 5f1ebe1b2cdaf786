// Package report renders printable documents of the payment desk.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"paydesk/internal/core/types"
	"paydesk/internal/domain/registers/application"
)

// SlipHeader is printed above the remittance table.
type SlipHeader struct {
	ShopName    string
	PreparedBy  string
	GeneratedAt time.Time
}

// RemittanceSlip renders the unremitted batch as an A4 PDF: one section per
// pay type with its count and subtotal, then the grand total.
func RemittanceSlip(batch application.Batch, h SlipHeader) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	title := "Remittance Slip"
	if h.ShopName != "" {
		title = h.ShopName + " - " + title
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(190, 6, fmt.Sprintf("Generated: %s", h.GeneratedAt.Format("02-Jan-2006 03:04 PM")), "", 1, "C", false, 0, "")
	if h.PreparedBy != "" {
		pdf.CellFormat(190, 6, fmt.Sprintf("Prepared by: %s", h.PreparedBy), "", 1, "C", false, 0, "")
	}
	pdf.Ln(5)

	if len(batch.Groups) == 0 {
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(190, 8, "No payments awaiting remittance.", "1", 1, "C", false, 0, "")
	}

	for _, g := range batch.Groups {
		pdf.SetFillColor(240, 240, 240)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(190, 8, fmt.Sprintf("%s (%d)", g.PayType, g.Count), "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(200, 200, 200)
		pdf.CellFormat(32, 7, "Payment #", "1", 0, "C", true, 0, "")
		pdf.CellFormat(22, 7, "Date", "1", 0, "C", true, 0, "")
		pdf.CellFormat(25, 7, "OR #", "1", 0, "C", true, 0, "")
		pdf.CellFormat(56, 7, "Payer", "1", 0, "C", true, 0, "")
		pdf.CellFormat(20, 7, "Order", "1", 0, "C", true, 0, "")
		pdf.CellFormat(35, 7, "Amount", "1", 1, "C", true, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, a := range g.Applications {
			pdf.CellFormat(32, 6, a.PaymentNumber, "1", 0, "L", false, 0, "")
			pdf.CellFormat(22, 6, a.PayDate.Format("02-Jan-2006"), "1", 0, "C", false, 0, "")
			pdf.CellFormat(25, 6, a.ORNumber, "1", 0, "L", false, 0, "")
			pdf.CellFormat(56, 6, truncate(a.PayerName, 32), "1", 0, "L", false, 0, "")
			pdf.CellFormat(20, 6, fmt.Sprintf("%d", a.OrderID), "1", 0, "C", false, 0, "")
			pdf.CellFormat(35, 6, amount(a.AmountApplied), "1", 1, "R", false, 0, "")
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(155, 7, "Subtotal", "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, amount(g.Subtotal), "1", 1, "R", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFillColor(200, 255, 200)
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(155, 10, fmt.Sprintf("Grand total (%d payments)", batch.Count), "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 10, amount(batch.GrandTotal), "1", 1, "R", true, 0, "")

	pdf.Ln(15)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(95, 6, "Remitted by: ____________________", "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Received by: ____________________", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render remittance slip: %w", err)
	}
	return buf.Bytes(), nil
}

func amount(m types.Money) string {
	return m.StringFixed(types.MoneyScale)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
