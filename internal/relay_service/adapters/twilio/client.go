package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaymask/golang_services/internal/relay_service/app"
	"github.com/relaymask/golang_services/internal/relay_service/domain"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"
const defaultLookupBaseURL = "https://lookups.twilio.com/v1"

// Client is the outbound dispatcher against the Twilio REST API. It
// implements app.Dispatcher. Constructed once at process start and shared;
// the underlying http.Client is safe for concurrent use.
type Client struct {
	accountSID    string
	authToken     string
	baseURL       string
	lookupBaseURL string
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewClient(accountSID, authToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		accountSID:    accountSID,
		authToken:     authToken,
		baseURL:       defaultBaseURL,
		lookupBaseURL: defaultLookupBaseURL,
		httpClient:    httpClient,
		logger:        logger.With("component", "twilio_client"),
	}
}

// WithBaseURLs overrides the API endpoints, used by tests.
func (c *Client) WithBaseURLs(apiBase, lookupBase string) *Client {
	c.baseURL = apiBase
	c.lookupBaseURL = lookupBase
	return c
}

type messageResponse struct {
	SID string `json:"sid"`
}

type lookupResponse struct {
	CountryCode string `json:"country_code"`
	Carrier     struct {
		Name string `json:"name"`
	} `json:"carrier"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendMessage submits an outbound SMS and returns the message SID.
func (c *Client) SendMessage(ctx context.Context, from, to, body, statusCallback string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)
	if statusCallback != "" {
		form.Set("StatusCallback", statusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	respBody, status, err := c.do(ctx, http.MethodPost, endpoint, form)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", c.asError(status, respBody, "creating message")
	}

	var msg messageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return "", fmt.Errorf("decoding message response: %w", err)
	}
	c.logger.DebugContext(ctx, "Submitted outbound message", "message_sid", msg.SID, "to", to)
	return msg.SID, nil
}

// EndCall deletes the provider-side call resource.
func (c *Client) EndCall(ctx context.Context, callSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
	respBody, status, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return c.asError(status, respBody, "deleting call")
	}
	return nil
}

// DeleteMessage deletes the provider-side message record. A 404 maps to
// domain.ErrProviderNotFound so callers can treat already-deleted as done.
func (c *Client) DeleteMessage(ctx context.Context, messageSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json", c.baseURL, c.accountSID, messageSID)
	respBody, status, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return domain.ErrProviderNotFound
	}
	if status >= 400 {
		return c.asError(status, respBody, "deleting message")
	}
	return nil
}

// LookupNumberDetails fetches carrier metadata for an E.164 number.
func (c *Client) LookupNumberDetails(ctx context.Context, e164Number string) (*app.NumberDetails, error) {
	endpoint := fmt.Sprintf("%s/PhoneNumbers/%s?Type=carrier", c.lookupBaseURL, url.PathEscape(e164Number))
	respBody, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrProviderNotFound
	}
	if status >= 400 {
		return nil, c.asError(status, respBody, "looking up number")
	}

	var lookup lookupResponse
	if err := json.Unmarshal(respBody, &lookup); err != nil {
		return nil, fmt.Errorf("decoding lookup response: %w", err)
	}
	return &app.NumberDetails{
		CountryCode: strings.ToUpper(lookup.CountryCode),
		Carrier:     lookup.Carrier.Name,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values) ([]byte, int, error) {
	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling provider API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("reading provider response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) asError(status int, respBody []byte, operation string) error {
	var apiErr apiError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("%s: provider returned %d (code %d): %s", operation, status, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%s: provider returned %d", operation, status)
}
