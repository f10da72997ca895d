package rail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/money"
)

const (
	defaultBaseURL     = "https://api.wise.com"
	defaultMinAPIDelay = 2 * time.Second
	maxReferenceLength = 140
)

// WiseClient implements the Rail interface against the Wise API.
type WiseClient struct {
	baseURL   string
	token     string
	http      *httpClient
	pacer     *Pacer
	profileID int64
}

// NewWiseClient creates a new Wise rail client. baseURL is overridable for
// tests and sandbox environments.
func NewWiseClient(token, baseURL string) *WiseClient {
	return NewWiseClientWithPacer(token, baseURL, NewPacer(defaultMinAPIDelay))
}

// NewWiseClientWithPacer wires a custom pacer.
func NewWiseClientWithPacer(token, baseURL string, pacer *Pacer) *WiseClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &WiseClient{
		baseURL: baseURL,
		token:   token,
		http:    newHTTPClient(),
		pacer:   pacer,
	}
}

func (c *WiseClient) call(ctx context.Context, op, method, path string, body, out any) error {
	c.pacer.Wait()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	return c.http.request(ctx, op, method, c.baseURL+path, header, body, out)
}

type wiseProfile struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// profile returns the funding profile id, fetching it once.
func (c *WiseClient) profile(ctx context.Context) (int64, error) {
	if c.profileID != 0 {
		return c.profileID, nil
	}

	var profiles []wiseProfile
	if err := c.call(ctx, "fetching profiles", "GET", "/v1/profiles", nil, &profiles); err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, fmt.Errorf("rail account has no profiles")
	}

	c.profileID = profiles[0].ID
	return c.profileID, nil
}

type wiseBalance struct {
	Currency string `json:"currency"`
	Amount   struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
	} `json:"amount"`
}

// Balance returns the available balance for a currency, zero when the
// profile holds none of it.
func (c *WiseClient) Balance(ctx context.Context, currency string) (Balance, error) {
	profileID, err := c.profile(ctx)
	if err != nil {
		return Balance{}, err
	}

	var balances []wiseBalance
	path := fmt.Sprintf("/v4/profiles/%d/balances?types=STANDARD", profileID)
	if err := c.call(ctx, "fetching balances", "GET", path, nil, &balances); err != nil {
		return Balance{}, err
	}

	for _, balance := range balances {
		if balance.Currency == currency {
			return Balance{Currency: currency, Amount: money.FromFloat(balance.Amount.Value)}, nil
		}
	}

	return Balance{Currency: currency}, nil
}

type wiseQuote struct {
	ID string `json:"id"`
}

func (c *WiseClient) createQuote(ctx context.Context, profileID int64, payment Payment) (string, error) {
	body := map[string]any{
		"sourceCurrency": payment.Currency,
		"targetCurrency": payment.Currency,
		"targetAmount":   payment.Amount.Float64(),
		"profile":        profileID,
	}

	var quote wiseQuote
	if err := c.call(ctx, "creating quote", "POST", "/v3/quotes", body, &quote); err != nil {
		return "", err
	}
	return quote.ID, nil
}

type wiseRecipient struct {
	ID      int64 `json:"id"`
	Details struct {
		IBAN string `json:"iban"`
	} `json:"details"`
}

// findRecipient looks for an existing payee with the same account number.
func (c *WiseClient) findRecipient(ctx context.Context, profileID int64, account string) (int64, bool, error) {
	var recipients []wiseRecipient
	path := fmt.Sprintf("/v1/accounts?profile=%d", profileID)
	if err := c.call(ctx, "listing recipients", "GET", path, nil, &recipients); err != nil {
		return 0, false, err
	}

	normalized := iban.Normalize(account)
	for _, recipient := range recipients {
		if iban.Normalize(recipient.Details.IBAN) == normalized {
			return recipient.ID, true, nil
		}
	}
	return 0, false, nil
}

func (c *WiseClient) createRecipient(ctx context.Context, profileID int64, payment Payment) (int64, error) {
	body := map[string]any{
		"currency":          payment.Currency,
		"type":              "iban",
		"profile":           profileID,
		"accountHolderName": payment.Recipient,
		"details": map[string]any{
			"iban": iban.Normalize(payment.IBAN),
		},
	}

	var recipient wiseRecipient
	if err := c.call(ctx, "creating recipient", "POST", "/v1/accounts", body, &recipient); err != nil {
		return 0, err
	}
	return recipient.ID, nil
}

type wiseTransfer struct {
	ID                  int64   `json:"id"`
	Status              string  `json:"status"`
	SourceCurrency      string  `json:"sourceCurrency"`
	SourceValue         float64 `json:"sourceValue"`
	TargetCurrency      string  `json:"targetCurrency"`
	TargetValue         float64 `json:"targetValue"`
	TargetRecipientName string  `json:"targetRecipientName"`
	Created             string  `json:"created"`
	Rate                float64 `json:"rate"`
	Details             struct {
		Reference string `json:"reference"`
	} `json:"details"`
}

func (t wiseTransfer) toTransfer() Transfer {
	return Transfer{
		ID:             t.ID,
		Reference:      t.Details.Reference,
		Status:         t.Status,
		SourceCurrency: t.SourceCurrency,
		SourceValue:    money.FromFloat(t.SourceValue),
		TargetCurrency: t.TargetCurrency,
		TargetValue:    money.FromFloat(t.TargetValue),
		RecipientName:  t.TargetRecipientName,
		Created:        t.Created,
		Rate:           t.Rate,
	}
}

func (c *WiseClient) createTransfer(ctx context.Context, recipientID int64, quoteID, reference string) (wiseTransfer, error) {
	if len(reference) > maxReferenceLength {
		reference = reference[:maxReferenceLength]
	}

	body := map[string]any{
		"targetAccount":         recipientID,
		"quoteUuid":             quoteID,
		"customerTransactionId": uuid.NewString(),
		"details": map[string]any{
			"reference": reference,
		},
	}

	var transfer wiseTransfer
	if err := c.call(ctx, "creating transfer", "POST", "/v1/transfers", body, &transfer); err != nil {
		return wiseTransfer{}, err
	}
	return transfer, nil
}

type wiseFunding struct {
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
}

func (c *WiseClient) fundTransfer(ctx context.Context, profileID, transferID int64) (wiseFunding, error) {
	body := map[string]any{"type": "BALANCE"}
	path := fmt.Sprintf("/v3/profiles/%d/transfers/%d/payments", profileID, transferID)

	var funding wiseFunding
	if err := c.call(ctx, "funding transfer", "POST", path, body, &funding); err != nil {
		return wiseFunding{}, err
	}
	return funding, nil
}

// ExecutePayment runs the payment pipeline: balance check, quote, recipient,
// transfer, funding. The first failing step aborts; re-approving the bill
// restarts from the balance check.
func (c *WiseClient) ExecutePayment(ctx context.Context, payment Payment) (Result, error) {
	profileID, err := c.profile(ctx)
	if err != nil {
		return Result{}, err
	}

	balance, err := c.Balance(ctx, payment.Currency)
	if err != nil {
		return Result{}, err
	}
	if balance.Amount.LessThan(payment.Amount) {
		return Result{}, &InsufficientBalanceError{
			Available: balance.Amount,
			Needed:    payment.Amount,
			Currency:  payment.Currency,
		}
	}

	quoteID, err := c.createQuote(ctx, profileID, payment)
	if err != nil {
		return Result{}, err
	}

	recipientID, found, err := c.findRecipient(ctx, profileID, payment.IBAN)
	if err != nil {
		return Result{}, err
	}
	if !found {
		recipientID, err = c.createRecipient(ctx, profileID, payment)
		if err != nil {
			return Result{}, err
		}
	}

	transfer, err := c.createTransfer(ctx, recipientID, quoteID, payment.Reference)
	if err != nil {
		return Result{}, err
	}

	funding, err := c.fundTransfer(ctx, profileID, transfer.ID)
	if err != nil {
		return Result{}, err
	}
	if funding.Status == "REJECTED" || funding.Status == "FAILED" {
		if funding.ErrorCode != "" {
			return Result{}, fmt.Errorf("payment funding failed: %s (%s)", funding.Status, funding.ErrorCode)
		}
		return Result{}, fmt.Errorf("payment funding failed: %s", funding.Status)
	}

	result := Result{TransferID: transfer.ID, Status: funding.Status}

	// A pending funding usually means the transfer sits in a waiting state,
	// either for incoming funds or for two factor approval. The transfer
	// status is the authoritative one.
	if funding.Status == "PENDING" || strings.Contains(strings.ToLower(funding.Status), "waiting") {
		current, err := c.Transfer(ctx, transfer.ID)
		if err != nil {
			slog.Warn("Could not refresh transfer after funding", "transfer_id", transfer.ID, "error", err)
		} else {
			result.Status = current.Status
			result.NeedsTwoFactor = current.NeedsTwoFactor()
		}
	}

	return result, nil
}

// Transfer fetches the current state of a transfer.
func (c *WiseClient) Transfer(ctx context.Context, id int64) (Transfer, error) {
	var transfer wiseTransfer
	path := fmt.Sprintf("/v1/transfers/%d", id)
	if err := c.call(ctx, "fetching transfer", "GET", path, nil, &transfer); err != nil {
		return Transfer{}, err
	}
	return transfer.toTransfer(), nil
}

// TransfersNeedingApproval lists transfers waiting for two factor
// authorization in the rail's app.
func (c *WiseClient) TransfersNeedingApproval(ctx context.Context) ([]Transfer, error) {
	profileID, err := c.profile(ctx)
	if err != nil {
		return nil, err
	}

	var transfers []wiseTransfer
	path := fmt.Sprintf("/v1/transfers?profile=%d&status=%s&limit=50", profileID, statusWaitingForAuthorization)
	if err := c.call(ctx, "listing transfers", "GET", path, nil, &transfers); err != nil {
		return nil, err
	}

	result := make([]Transfer, 0, len(transfers))
	for _, transfer := range transfers {
		result = append(result, transfer.toTransfer())
	}
	return result, nil
}
