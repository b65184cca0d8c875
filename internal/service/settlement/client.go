package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/models"
)

const (
	CodeRetryAfter = "retry-after"
	CodeRejected   = "rejected"
	CodeUnknown    = "unknown"
)

// SettlementError is returned for every failed exchange with the settlement
// gateway. Code tells the caller whether a retry makes sense.
type SettlementError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %d, error: %v", e.Code, e.RetryAfter, e.Err)
}

func NewSettlementError(code string, retryAfter int, err error) *SettlementError {
	return &SettlementError{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

type submitRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Destination  string `json:"destination"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// Client talks to the external settlement gateway which moves funds on chain.
// The ledger treats it as opaque: submit, get a transaction hash back.
type Client struct {
	SettlementAddr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		SettlementAddr: addr,
		client:         &http.Client{},
		logger:         l,
	}
}

// Submit sends the withdrawal for on-chain settlement and returns the
// transaction hash. Submission is keyed by withdrawal id on the gateway side,
// so a retried call does not double-spend.
func (c *Client) Submit(ctx context.Context, w models.Withdrawal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := json.Marshal(submitRequest{
		WithdrawalID: w.ID.String(),
		Amount:       w.Amount.String(),
		Currency:     w.Currency,
		Destination:  w.Destination,
	})
	if err != nil {
		return "", NewSettlementError(CodeUnknown, 0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SettlementAddr+"/api/settlements", bytes.NewReader(body))
	if err != nil {
		return "", NewSettlementError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", NewSettlementError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return c.processSuccess(resp)
	case http.StatusTooManyRequests:
		return "", c.processTooManyRequests(resp)
	case http.StatusUnprocessableEntity:
		return "", NewSettlementError(CodeRejected, 0, fmt.Errorf("settlement rejected for withdrawal %s", w.ID))
	default:
		c.logger.Warn("Settlement gateway returned unexpected status", "status_code", resp.StatusCode, "withdrawal_id", w.ID)
		return "", NewSettlementError(CodeUnknown, 0, fmt.Errorf("unexpected status code %d for withdrawal %s", resp.StatusCode, w.ID))
	}
}

func (c *Client) processSuccess(resp *http.Response) (string, error) {
	var r submitResponse
	err := json.NewDecoder(resp.Body).Decode(&r)
	if err != nil {
		c.logger.Warn("Failed to decode settlement response", "error", err)
		return "", NewSettlementError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("Settlement response", "tx_hash", r.TxHash, "status", r.Status)
	return r.TxHash, nil
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	c.logger.Warn("Settlement gateway throttled", "retry_after", retryAfter)
	return NewSettlementError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
