package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Charge is the mock rail's view of a settled payment.
type Charge struct {
	ID                   string            `json:"id"`
	PaymentIntentID      string            `json:"payment_intent_id,omitempty"`
	BalanceTransactionID string            `json:"balance_transaction_id,omitempty"`
	InvoiceID            string            `json:"invoice_id,omitempty"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	AutomaticTax         bool              `json:"automatic_tax"`
	TaxAmount            int64             `json:"tax_amount"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type BalanceTransaction struct {
	ID               string  `json:"id"`
	Type             string  `json:"type"`
	Amount           int64   `json:"amount"`
	Currency         string  `json:"currency"`
	Fee              int64   `json:"fee"`
	ExchangeRate     float64 `json:"exchange_rate,omitempty"`
	Description      string  `json:"description,omitempty"`
	SourceTransferID string  `json:"source_transfer_id,omitempty"`
}

type Refund struct {
	ID                   string `json:"id"`
	ChargeID             string `json:"charge_id"`
	Status               string `json:"status"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	BalanceTransactionID string `json:"balance_transaction_id,omitempty"`
}

type Dispute struct {
	ID                  string               `json:"id"`
	ChargeID            string               `json:"charge_id"`
	Status              string               `json:"status"`
	Amount              int64                `json:"amount"`
	Currency            string               `json:"currency"`
	BalanceTransactions []BalanceTransaction `json:"balance_transactions"`
}

type TransferRequest struct {
	Destination       string            `json:"destination" binding:"required"`
	Amount            int64             `json:"amount" binding:"required"`
	SourceTransaction string            `json:"source_transaction"`
	Metadata          map[string]string `json:"metadata"`
}

type TransferResponse struct {
	ID                              string `json:"id"`
	DestinationBalanceTransactionID string `json:"destination_balance_transaction_id,omitempty"`
}

// MockRail keeps the rail's state in memory. Destinations registered
// with a non-platform currency get a simulated FX conversion on
// transfer, like the real rail applies non-deterministically.
type MockRail struct {
	mu sync.RWMutex

	charges             map[string]*Charge
	balanceTransactions map[string]*BalanceTransaction
	refunds             map[string]*Refund
	disputes            map[string]*Dispute
	intents             map[string]string // intent id -> latest charge id
	destinationCurrency map[string]string

	// balance transactions per (account, payout), for payout listings
	payoutActivity map[string][]*BalanceTransaction

	failureRate float64
	feePercent  float64
	rng         *rand.Rand
}

func NewMockRail(failureRate, feePercent float64) *MockRail {
	return &MockRail{
		charges:             make(map[string]*Charge),
		balanceTransactions: make(map[string]*BalanceTransaction),
		refunds:             make(map[string]*Refund),
		disputes:            make(map[string]*Dispute),
		intents:             make(map[string]string),
		destinationCurrency: make(map[string]string),
		payoutActivity:      make(map[string][]*BalanceTransaction),
		failureRate:         failureRate,
		feePercent:          feePercent,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockRail) flaky() bool {
	return m.rng.Float64() < m.failureRate
}

// exchangeRate simulates the rail's FX: a random rate in [0.9, 1.1).
func (m *MockRail) exchangeRate() float64 {
	return 0.9 + m.rng.Float64()*0.2
}

func (m *MockRail) seedCharge(c *Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = "ch_" + uuid.New().String()[:16]
	}
	bt := &BalanceTransaction{
		ID:       "txn_" + uuid.New().String()[:16],
		Type:     "charge",
		Amount:   c.Amount,
		Currency: c.Currency,
		Fee:      int64(float64(c.Amount) * m.feePercent / 100),
	}
	c.BalanceTransactionID = bt.ID
	m.balanceTransactions[bt.ID] = bt
	m.charges[c.ID] = c
	if c.PaymentIntentID != "" {
		m.intents[c.PaymentIntentID] = c.ID
	}
}

func (m *MockRail) transfer(req *TransferRequest) *TransferResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	transferID := "tr_" + uuid.New().String()[:16]

	currency := m.destinationCurrency[req.Destination]
	amount := req.Amount
	var rate float64
	if currency == "" {
		currency = "usd"
	} else if currency != "usd" {
		rate = m.exchangeRate()
		amount = int64(float64(req.Amount) * rate)
	}

	bt := &BalanceTransaction{
		ID:               "txn_" + uuid.New().String()[:16],
		Type:             "payment",
		Amount:           amount,
		Currency:         currency,
		ExchangeRate:     rate,
		SourceTransferID: transferID,
	}
	m.balanceTransactions[bt.ID] = bt
	m.payoutActivity[req.Destination] = append(m.payoutActivity[req.Destination], bt)

	return &TransferResponse{
		ID:                              transferID,
		DestinationBalanceTransactionID: bt.ID,
	}
}

func (m *MockRail) reverseTransfer(transferID string, amount int64) *TransferResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	bt := &BalanceTransaction{
		ID:       "txn_" + uuid.New().String()[:16],
		Type:     "transfer_reversal",
		Amount:   -amount,
		Currency: "usd",
	}
	m.balanceTransactions[bt.ID] = bt

	return &TransferResponse{
		ID:                              "trr_" + uuid.New().String()[:16],
		DestinationBalanceTransactionID: bt.ID,
	}
}

type Handler struct {
	rail *MockRail
}

func NewHandler(rail *MockRail) *Handler {
	return &Handler{rail: rail}
}

func (h *Handler) unavailable(c *gin.Context) bool {
	if h.rail.flaky() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rail temporarily unavailable"})
		return true
	}
	return false
}

func (h *Handler) GetCharge(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	h.rail.mu.RLock()
	charge, ok := h.rail.charges[c.Param("id")]
	h.rail.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such charge"})
		return
	}
	c.JSON(http.StatusOK, charge)
}

func (h *Handler) GetBalanceTransaction(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	h.rail.mu.RLock()
	bt, ok := h.rail.balanceTransactions[c.Param("id")]
	h.rail.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such balance transaction"})
		return
	}
	c.JSON(http.StatusOK, bt)
}

func (h *Handler) ListBalanceTransactions(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	account := c.Query("account")

	h.rail.mu.RLock()
	defer h.rail.mu.RUnlock()

	var data []*BalanceTransaction
	if account != "" {
		data = h.rail.payoutActivity[account]
	} else {
		for _, bt := range h.rail.balanceTransactions {
			if bt.Type == "stripe_fee" {
				data = append(data, bt)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *Handler) GetRefund(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	h.rail.mu.RLock()
	refund, ok := h.rail.refunds[c.Param("id")]
	h.rail.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such refund"})
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (h *Handler) ListRefunds(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	chargeID := c.Query("charge")

	h.rail.mu.RLock()
	defer h.rail.mu.RUnlock()

	data := make([]*Refund, 0)
	for _, r := range h.rail.refunds {
		if chargeID == "" || r.ChargeID == chargeID {
			data = append(data, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (h *Handler) GetDispute(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	h.rail.mu.RLock()
	dispute, ok := h.rail.disputes[c.Param("id")]
	h.rail.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such dispute"})
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *Handler) GetPaymentIntent(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	h.rail.mu.RLock()
	chargeID, ok := h.rail.intents[c.Param("id")]
	h.rail.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such payment intent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "latest_charge_id": chargeID})
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp := h.rail.transfer(&req)
	log.Info().
		Str("transfer_id", resp.ID).
		Str("destination", req.Destination).
		Int64("amount", req.Amount).
		Msg("Transfer created")
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ReverseTransfer(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	var req struct {
		Amount int64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp := h.rail.reverseTransfer(c.Param("id"), req.Amount)
	log.Info().
		Str("transfer_id", c.Param("id")).
		Int64("amount", req.Amount).
		Msg("Transfer reversed")
	c.JSON(http.StatusCreated, resp)
}

// Seeding endpoints, for driving the ledger in local setups.

func (h *Handler) SeedCharge(c *gin.Context) {
	var charge Charge
	if err := c.ShouldBindJSON(&charge); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.rail.seedCharge(&charge)
	c.JSON(http.StatusCreated, charge)
}

func (h *Handler) SeedRefund(c *gin.Context) {
	var refund Refund
	if err := c.ShouldBindJSON(&refund); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.rail.mu.Lock()
	if refund.ID == "" {
		refund.ID = "re_" + uuid.New().String()[:16]
	}
	h.rail.refunds[refund.ID] = &refund
	h.rail.mu.Unlock()
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) SeedDispute(c *gin.Context) {
	var dispute Dispute
	if err := c.ShouldBindJSON(&dispute); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.rail.mu.Lock()
	if dispute.ID == "" {
		dispute.ID = "dp_" + uuid.New().String()[:16]
	}
	h.rail.disputes[dispute.ID] = &dispute
	h.rail.mu.Unlock()
	c.JSON(http.StatusCreated, dispute)
}

func (h *Handler) SeedDestination(c *gin.Context) {
	var req struct {
		Destination string `json:"destination" binding:"required"`
		Currency    string `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.rail.mu.Lock()
	h.rail.destinationCurrency[req.Destination] = req.Currency
	h.rail.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"destination": req.Destination, "currency": req.Currency})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/charges/:id", handler.GetCharge)
		v1.GET("/balance_transactions/:id", handler.GetBalanceTransaction)
		v1.GET("/balance_transactions", handler.ListBalanceTransactions)
		v1.GET("/refunds/:id", handler.GetRefund)
		v1.GET("/refunds", handler.ListRefunds)
		v1.GET("/disputes/:id", handler.GetDispute)
		v1.GET("/payment_intents/:id", handler.GetPaymentIntent)
		v1.POST("/transfers", handler.CreateTransfer)
		v1.POST("/transfers/:id/reversals", handler.ReverseTransfer)
	}

	seed := router.Group("/seed")
	{
		seed.POST("/charges", handler.SeedCharge)
		seed.POST("/refunds", handler.SeedRefund)
		seed.POST("/disputes", handler.SeedDispute)
		seed.POST("/destinations", handler.SeedDestination)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	failureRate := getEnvFloat("FAILURE_RATE", 0)
	feePercent := getEnvFloat("FEE_PERCENT", 2.9)

	log.Info().
		Str("port", port).
		Float64("failure_rate", failureRate).
		Float64("fee_percent", feePercent).
		Msg("Starting Mock Payment Rail")

	rail := NewMockRail(failureRate, feePercent)
	handler := NewHandler(rail)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}
