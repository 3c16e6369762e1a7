package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/meridianhq/billing-ledger/internal/model"
	xhttp "github.com/meridianhq/billing-ledger/pkg/http"
)

type LedgerReader interface {
	GetBalance(ctx context.Context, accountID int64, currency string) (int64, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
}

type LedgerHandler struct {
	svc LedgerReader
}

func RegisterLedgerRoutes(e *router.Group, h *LedgerHandler) {
	e.GET("/accounts/{id}/balance", h.GetBalance)
	e.GET("/transactions", h.ListTransactions)
	e.GET("/transactions/{id}", h.GetTransaction)
}

func NewLedgerHandler(ledgerService LedgerReader) *LedgerHandler {
	return &LedgerHandler{
		svc: ledgerService,
	}
}

type balanceResponse struct {
	AccountID int64  `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   int64  `json:"balance"`
}

type listTransactionsResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *LedgerHandler) GetBalance(ctx *xhttp.RequestCtx) {
	accountID, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}
	currency := query(ctx, "currency")
	if currency == "" {
		writeError(ctx, 400, "currency is required")
		return
	}

	balance, err := h.svc.GetBalance(ctx, accountID, currency)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}

	writeJSON(ctx, 200, balanceResponse{
		AccountID: accountID,
		Currency:  currency,
		Balance:   balance,
	})
}

func (h *LedgerHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	var f model.TransactionFilter

	if v := query(ctx, "account_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.AccountID = &id
		}
	}
	if v := query(ctx, "type"); v != "" {
		t := model.TransactionType(v)
		f.Type = &t
	}
	if v := query(ctx, "charge_id"); v != "" {
		f.ChargeID = &v
	}
	if v := query(ctx, "currency"); v != "" {
		f.Currency = &v
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListTransactions(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listTransactionsResponse{Items: items, Total: total})
}

func (h *LedgerHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid transaction id")
		return
	}

	txn, err := h.svc.GetTransaction(ctx, id)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	if txn == nil {
		writeError(ctx, 404, "transaction not found")
		return
	}
	writeJSON(ctx, 200, txn)
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	idStr, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(idStr, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}
