package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/listinglens/listinglens/internal/providers/pdf"
)

// DownloadReceipt renders the purchase receipt for a payment id as a PDF.
// Only purchases recorded for the caller's workspace resolve; anything else
// is a 404 so the endpoint does not leak payment ids across tenants.
func (s *Server) DownloadReceipt(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	paymentID := strings.TrimSpace(c.Param("payment_id"))
	if paymentID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	txn, err := s.creditSvc.FindPurchase(c.Request.Context(), workspaceID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if txn == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	ws, err := s.workspaceSvc.Get(c.Request.Context(), workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	packageName := "Credit purchase"
	amountPaid := ""
	if txn.PackageID != nil {
		packages, err := s.creditSvc.ListPackages(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		for _, pkg := range packages {
			if pkg.Code == *txn.PackageID {
				packageName = pkg.Name
				amountPaid = formatUSDCents(pkg.PriceUSDCents)
				break
			}
		}
	}

	reader, err := s.pdfSvc.GenerateReceipt(c.Request.Context(), pdf.ReceiptData{
		ReceiptNumber: "LL-" + txn.ID.String(),
		DatePaid:      txn.CreatedAt.UTC().Format("January 2, 2006"),
		WorkspaceName: ws.Name,
		BilledToEmail: ws.OwnerEmail,
		PackageName:   packageName,
		Credits:       txn.Amount,
		AmountPaid:    amountPaid,
		Currency:      "USD",
		PaymentID:     paymentID,
		BalanceAfter:  ws.Credits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "receipt-"+paymentID+".pdf"))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.log.Warn("receipt stream interrupted")
	}
}

func formatUSDCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
