package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phishnet/phishnet/internal/fraud"
	"github.com/phishnet/phishnet/internal/idgen"
	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/validation"
)

// -----------------------------------------------------------------------------
// SMS webhook
// -----------------------------------------------------------------------------

// smsWebhookHandler handles inbound SMS replies from a Twilio-style
// gateway. The payload is form-encoded, but some gateway configurations
// base64-encode the whole body first, so both shapes are accepted.
// The response body is the text to send back to the cardholder.
func (s *Server) smsWebhookHandler(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	form, err := parseWebhookForm(raw)
	if err != nil {
		logging.L(ctx).Warn("unparseable SMS webhook body", "error", err)
		c.String(http.StatusBadRequest, "unparseable body")
		return
	}

	from := validation.SanitizePhone(form.Get("From"))
	body := form.Get("Body")
	if from == "" {
		c.String(http.StatusBadRequest, "missing From")
		return
	}

	reply := s.interpreter.Interpret(ctx, from, body)
	c.String(http.StatusOK, reply.Text)
}

// parseWebhookForm decodes the webhook body, transparently handling the
// base64-wrapped variant some gateways produce.
func parseWebhookForm(raw []byte) (url.Values, error) {
	body := strings.TrimSpace(string(raw))

	if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
		body = string(decoded)
	}

	return url.ParseQuery(body)
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

type ingestRequest struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"paymentMethod"`
	Location      string  `json:"location"`
}

// ingestTransaction handles POST /v1/transactions. The transaction is
// persisted as Pending and a scoring request is published (or, without a
// broker, scored before the response goes out).
func (s *Server) ingestTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if verrs := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.PositiveAmount("amount", req.Amount),
		validation.MaxLength("merchant", req.Merchant, 200),
		validation.MaxLength("location", req.Location, 200),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	if _, err := s.users.Get(ctx, req.UserID); err != nil {
		if errors.Is(err, fraud.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "user_not_found",
				"message": "No user with that id",
			})
			return
		}
		logging.L(ctx).Error("failed to look up user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	tx := &fraud.Transaction{
		ID:            req.ID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Merchant:      validation.SanitizeString(req.Merchant, 200),
		Category:      validation.SanitizeString(req.Category, 200),
		PaymentMethod: validation.SanitizeString(req.PaymentMethod, 200),
		Location:      validation.SanitizeString(req.Location, 200),
		Timestamp:     time.Now().UTC(),
		Status:        fraud.StatusPending,
	}
	if tx.ID == "" {
		tx.ID = idgen.WithPrefix("txn_")
	}

	if err := s.txns.Create(ctx, tx); err != nil {
		logging.L(ctx).Error("failed to persist transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	scoring := fraud.ScoringRequest{TransactionID: tx.ID}
	if s.producer != nil {
		if err := s.producer.Publish(ctx, s.cfg.ScoringExchange, s.cfg.ScoringRoutingKey, scoring); err != nil {
			// Persisted but unscored; surface for reconciliation rather
			// than failing the ingest.
			logging.L(ctx).Error("failed to publish scoring request", "transaction_id", tx.ID, "error", err)
		}
	} else {
		s.processor.ProcessScoringRequest(ctx, scoring)
	}

	c.JSON(http.StatusAccepted, gin.H{"transaction": tx})
}

// getTransaction handles GET /v1/transactions/:id
func (s *Server) getTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	tx, err := s.txns.Get(ctx, c.Param("id"))
	if errors.Is(err, fraud.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "transaction_not_found",
			"message": "No transaction with that id",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to fetch transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

type createUserRequest struct {
	ID              string `json:"id"`
	Phone           string `json:"phone"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	TravelMode      bool   `json:"travelMode"`
	TrustedLocation string `json:"trustedLocation"`
}

// createUser handles POST /v1/users (provisioning interface)
func (s *Server) createUser(c *gin.Context) {
	ctx := c.Request.Context()

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	phone := validation.SanitizePhone(req.Phone)
	if verrs := validation.Validate(
		validation.Required("phone", phone),
		validation.ValidPhone("phone", phone),
		validation.MaxLength("firstName", req.FirstName, 100),
		validation.MaxLength("lastName", req.LastName, 100),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	user := &fraud.UserProfile{
		ID:              req.ID,
		Phone:           phone,
		FirstName:       validation.SanitizeString(req.FirstName, 100),
		LastName:        validation.SanitizeString(req.LastName, 100),
		TravelMode:      req.TravelMode,
		TrustedLocation: validation.SanitizeString(req.TrustedLocation, 200),
		CreatedAt:       time.Now().UTC(),
	}
	if user.ID == "" {
		user.ID = idgen.WithPrefix("usr_")
	}

	if err := s.users.Create(ctx, user); err != nil {
		logging.L(ctx).Error("failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// getUser handles GET /v1/users/:id
func (s *Server) getUser(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := s.users.Get(ctx, c.Param("id"))
	if errors.Is(err, fraud.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "user_not_found",
			"message": "No user with that id",
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to fetch user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// listAlerts handles GET /v1/alerts/:phone (ops view of unresolved
// correlation entries for a number)
func (s *Server) listAlerts(c *gin.Context) {
	ctx := c.Request.Context()

	phone := validation.SanitizePhone(c.Param("phone"))
	if !validation.IsValidPhone(phone) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_phone",
			"message": "phone must be an E.164 phone number",
		})
		return
	}

	alerts, err := s.alerts.ListByPhone(ctx, phone, s.cfg.AlertLookback)
	if err != nil {
		logging.L(ctx).Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if alerts == nil {
		alerts = []*fraud.Alert{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
