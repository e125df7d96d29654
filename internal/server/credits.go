package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	"github.com/listinglens/listinglens/pkg/db/pagination"
)

type transactionView struct {
	ID          string    `json:"id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	PaymentID   *string   `json:"payment_id,omitempty"`
	PackageID   *string   `json:"package_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTransactionView(txn creditdomain.CreditTransaction) transactionView {
	return transactionView{
		ID:          txn.ID.String(),
		Amount:      txn.Amount,
		Type:        string(txn.Type),
		Description: txn.Description,
		PaymentID:   txn.PaymentID,
		PackageID:   txn.PackageID,
		CreatedAt:   txn.CreatedAt,
	}
}

func (s *Server) GetBalance(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspaceID.String(),
		"balance":      balance,
	})
}

func (s *Server) ListTransactions(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txns, pageInfo, err := s.creditSvc.ListTransactions(c.Request.Context(), workspaceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for _, txn := range txns {
		views = append(views, toTransactionView(txn))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      views,
		"page_info": pageInfo,
	})
}

type packageView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Credits       int64  `json:"credits"`
	PriceUSDCents int64  `json:"price_usd_cents"`
}

func (s *Server) ListPackages(c *gin.Context) {
	packages, err := s.creditSvc.ListPackages(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]packageView, 0, len(packages))
	for _, pkg := range packages {
		views = append(views, packageView{
			ID:            pkg.ID.String(),
			Name:          pkg.Name,
			Code:          pkg.Code,
			Credits:       pkg.Credits,
			PriceUSDCents: pkg.PriceUSDCents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

type AdjustCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// AdjustCredits applies an operator correction to the caller's workspace.
// Every call appends a ledger row, so retries double-apply.
func (s *Server) AdjustCredits(c *gin.Context) {
	workspaceID, err := workspaceIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	balance, err := s.creditSvc.AdjustCredits(c.Request.Context(), workspaceID, req.Amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspaceID.String(),
		"balance":      balance,
	})
}
