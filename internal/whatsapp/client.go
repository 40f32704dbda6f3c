package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/phone"
)

// Client sends messages through a Twilio-shaped Messages API.
type Client struct {
	BaseURL        string
	StatusCallback string
	Timeout        time.Duration
	HTTP           *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(cfg.GatewayBaseURL, "/"),
		StatusCallback: cfg.StatusCallbackURL,
		Timeout:        cfg.GatewayTimeout,
		HTTP:           &http.Client{},
	}
}

// Credentials identify the sending account.
type Credentials struct {
	AccountSID string
	AuthToken  string
	From       string // E.164
}

// SendRequest carries either a rendered Body or a provider ContentSID with
// positional ContentVariables.
type SendRequest struct {
	Credentials
	To               string // E.164
	Body             string
	ContentSID       string
	ContentVariables string
}

// SendResult is the gateway acknowledgment.
type SendResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Accepted reports an ack that only queued the message on the provider side.
func (r SendResult) Accepted() bool {
	switch strings.ToLower(r.Status) {
	case "queued", "accepted", "scheduled":
		return true
	}
	return false
}

// Error is a gateway failure classified as transient or fatal.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s error %d (code %s): %s", kind, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s error %d: %s", kind, e.StatusCode, e.Message)
}

// IsTransient reports whether a send failure should be retried.
func IsTransient(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}
	return false
}

// ErrorCode extracts the provider error code, if any.
func ErrorCode(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Send submits one message. The call is bounded by the client timeout.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("To", phone.Channel(req.To))
	form.Set("From", phone.Channel(req.From))
	if req.ContentSID != "" {
		form.Set("ContentSid", req.ContentSID)
		if req.ContentVariables != "" {
			form.Set("ContentVariables", req.ContentVariables)
		}
	} else {
		form.Set("Body", req.Body)
	}
	if c.StatusCallback != "" {
		form.Set("StatusCallback", c.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, url.PathEscape(req.AccountSID))
	status, respBody, err := c.sendRequest(ctx, http.MethodPost, endpoint, req.Credentials, form)
	if err != nil {
		return SendResult{}, err
	}

	// A 2xx means the provider took the message, so an unreadable answer
	// must not be retried.
	var result SendResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return SendResult{}, unconfirmed(status, "malformed response: "+err.Error())
	}
	if result.SID == "" {
		return SendResult{}, unconfirmed(status, "response without sid")
	}
	return result, nil
}

func unconfirmed(status int, msg string) *Error {
	return &Error{StatusCode: status, Code: models.ErrorUnconfirmed, Message: msg}
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, creds Credentials, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// network failures and timeouts are worth retrying
		return 0, nil, &Error{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if resp.StatusCode < 300 {
			return resp.StatusCode, nil, unconfirmed(resp.StatusCode, err.Error())
		}
		return resp.StatusCode, nil, &Error{StatusCode: resp.StatusCode, Message: err.Error(), Transient: true}
	}

	if resp.StatusCode >= 400 {
		gwErr := &Error{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			gwErr.Message = apiErr.Message
			if apiErr.Code != 0 {
				gwErr.Code = fmt.Sprint(apiErr.Code)
			}
		}
		return resp.StatusCode, nil, gwErr
	}
	return resp.StatusCode, respBody, nil
}
