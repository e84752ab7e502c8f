package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, svc *service.BalanceService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/accounts/:id/deposit", mutationHandler(svc, record.KindDeposit))
		v1.POST("/accounts/:id/withdraw", mutationHandler(svc, record.KindWithdraw))
		v1.POST("/accounts/:id/freeze", mutationHandler(svc, record.KindFreeze))
		v1.POST("/accounts/:id/unfreeze", mutationHandler(svc, record.KindUnfreeze))
		v1.POST("/accounts/:id/transfer", transferHandler(svc))
		v1.GET("/accounts/:id/balance", balanceHandler(svc))
		v1.GET("/accounts/:id/history", historyHandler(svc))
	}
}

type mutationReq struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	UserKey       string `json:"user_key"`
	Description   string `json:"description"`
}

func (r *mutationReq) toMutation(accountID uint64, kind string) (*record.Mutation, error) {
	amt, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "invalid amount")
	}
	userKey := r.UserKey
	if userKey == "" {
		userKey = strconv.FormatUint(accountID, 10)
	}
	return &record.Mutation{
		TransactionID: r.TransactionID,
		AccountID:     accountID,
		UserKey:       userKey,
		Currency:      r.Currency,
		Kind:          kind,
		Amount:        amt,
		Description:   r.Description,
	}, nil
}

func mutationHandler(svc *service.BalanceService, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mutationReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		m, err := req.toMutation(id, kind)
		if err != nil {
			writeError(c, err)
			return
		}
		eventID, err := svc.Mutate(c, m)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"event_id": eventID})
	}
}

type transferReq struct {
	mutationReq
	ToAccountID string `json:"to_account_id" binding:"required"`
}

// transferHandler enqueues the source withdraw and an independent
// counter-deposit on the target partition. The two mutations are not
// atomic across accounts.
func transferHandler(svc *service.BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fromID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		toID, err := strconv.ParseUint(req.ToAccountID, 10, 64)
		if err != nil || toID == fromID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_account_id"})
			return
		}

		out, err := req.toMutation(fromID, record.KindTransfer)
		if err != nil {
			writeError(c, err)
			return
		}
		outID, err := svc.Mutate(c, out)
		if err != nil {
			writeError(c, err)
			return
		}

		in := &record.Mutation{
			TransactionID: req.TransactionID + ":credit",
			AccountID:     toID,
			UserKey:       strconv.FormatUint(toID, 10),
			Currency:      req.Currency,
			Kind:          record.KindDeposit,
			Amount:        out.Amount,
			Description:   req.Description,
		}
		inID, err := svc.Mutate(c, in)
		if err != nil && errs.KindOf(err) != errs.KindDuplicate {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"event_id": outID, "credit_event_id": inID})
	}
}

func balanceHandler(svc *service.BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		currency := c.Query("currency")
		if currency == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
			return
		}
		bal, err := svc.Query(c, id, currency)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"account_id": bal.AccountID,
			"currency":   bal.CurrencyCode,
			"available":  bal.Available,
			"frozen":     bal.Frozen,
			"version":    bal.Version,
			"updated_at": bal.UpdatedAt,
		})
	}
}

func historyHandler(svc *service.BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		rows, err := svc.History(c, id, c.Query("currency"), limit, since)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// writeError maps error kinds onto HTTP statuses so idempotent clients
// can tell a duplicate from a server fault.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindDuplicate:
		status = http.StatusConflict
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindInsufficientFunds, errs.KindUnknownBalance:
		status = http.StatusUnprocessableEntity
	case errs.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": errs.KindOf(err).String()})
}
