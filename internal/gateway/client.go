package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the provider's JSON API.  Every call carries the
// server key as basic auth and is bounded by the configured timeout;
// 5xx responses and timeouts surface as *GatewayError so callers can
// retry on the next webhook or poll without touching local state.
type Client struct {
	baseURL   string
	serverKey string
	http      *http.Client
}

// NewClient builds a Client.  The timeout applies per call and should
// be seconds, not minutes; reconciliation holds no locks while waiting
// but the user is often waiting on the other end.
func NewClient(baseURL, serverKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		serverKey: serverKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type sessionRequestBody struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []LineItem `json:"item_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer_details"`
	Expiry struct {
		Unit     string `json:"unit"`
		Duration int64  `json:"duration"`
	} `json:"expiry"`
}

type sessionResponseBody struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CreateSession opens a checkout session.  The request is validated
// before any network call: the item lines (including the negative
// discount line, when present) must sum to the gross amount and the
// discount can never exceed the positive lines.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var positive, negative int64
	var sum int64
	for _, it := range req.Items {
		line := it.Price * int64(it.Qty)
		sum += line
		if line >= 0 {
			positive += line
		} else {
			negative += -line
		}
	}
	if negative > positive {
		return nil, fmt.Errorf("discount %d exceeds item lines %d for order %s", negative, positive, req.OrderNumber)
	}
	if sum != req.GrossAmount {
		return nil, fmt.Errorf("item lines sum to %d but gross amount is %d for order %s", sum, req.GrossAmount, req.OrderNumber)
	}

	var body sessionRequestBody
	body.TransactionDetails.OrderID = req.OrderNumber
	body.TransactionDetails.GrossAmount = req.GrossAmount
	body.ItemDetails = req.Items
	body.CustomerDetails.FirstName = req.CustomerName
	body.CustomerDetails.Email = req.CustomerEmail
	body.CustomerDetails.Phone = req.CustomerPhone
	body.Expiry.Unit = "minute"
	body.Expiry.Duration = int64(req.Expiry / time.Minute)

	var resp sessionResponseBody
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", &body, &resp, "create session"); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &GatewayError{Op: "create session", Err: fmt.Errorf("empty token in response")}
	}
	return &Session{
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		ExpiresAt:   time.Now().UTC().Add(req.Expiry),
	}, nil
}

type statusResponseBody struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
}

// QueryStatus asks the provider for the order's transaction state.  A
// 404 means the provider has never seen the order (or the session was
// purged) and maps to StatusUnknown with no error so callers do not
// mutate anything.
func (c *Client) QueryStatus(ctx context.Context, orderRef string) (Status, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+orderRef+"/status", nil)
	if err != nil {
		return StatusUnknown, nil, &GatewayError{Op: "query status", Err: err}
	}
	httpReq.SetBasicAuth(c.serverKey, "")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return StatusUnknown, nil, &GatewayError{Op: "query status", Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return StatusUnknown, nil, &GatewayError{Op: "query status", StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode == http.StatusNotFound {
		return StatusUnknown, nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return StatusUnknown, nil, &GatewayError{Op: "query status", StatusCode: res.StatusCode, Err: fmt.Errorf("unexpected response")}
	}
	var body statusResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return StatusUnknown, nil, &GatewayError{Op: "query status", StatusCode: res.StatusCode, Err: err}
	}
	return Normalize(body.TransactionStatus, body.FraudStatus), raw, nil
}

type cancelResponseBody struct {
	StatusCode string `json:"status_code"`
}

// Cancel voids the order on the provider side.  Orders the provider no
// longer knows about count as not cancelled but are not an error.
func (c *Client) Cancel(ctx context.Context, orderRef string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders/"+orderRef+"/cancel", nil)
	if err != nil {
		return false, &GatewayError{Op: "cancel", Err: err}
	}
	httpReq.SetBasicAuth(c.serverKey, "")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return false, &GatewayError{Op: "cancel", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.StatusCode != http.StatusOK {
		return false, &GatewayError{Op: "cancel", StatusCode: res.StatusCode, Err: fmt.Errorf("unexpected response")}
	}
	var body cancelResponseBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, &GatewayError{Op: "cancel", StatusCode: res.StatusCode, Err: err}
	}
	return body.StatusCode == "200", nil
}

// do posts a JSON body and decodes a JSON response, translating
// transport failures and non-2xx statuses into *GatewayError.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, op string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	httpReq.SetBasicAuth(c.serverKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &GatewayError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("unexpected response")}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, StatusCode: res.StatusCode, Err: err}
	}
	return nil
}
