package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrCallPlacement indicates the telephony provider rejected or failed an
// outbound call request.
var ErrCallPlacement = errors.New("call placement failed")

// DefaultBaseURL is the production telephony REST endpoint.
const DefaultBaseURL = "https://api.twilio.com"

const defaultTimeout = 15 * time.Second

// Config holds telephony provider credentials.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration

	// BaseURL overrides the provider endpoint, used by tests.
	BaseURL string
}

// Dialer places outbound calls through the provider's REST API.
type Dialer struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

// NewDialer creates a dialer. Credentials are validated at config load time,
// not here.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dialer{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// placeCallResponse is the subset of the provider's call resource we use.
type placeCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall dials toNumber and points the answered call at voiceURL, which
// must serve the call's TwiML. Returns the provider call SID.
func (d *Dialer) PlaceCall(ctx context.Context, toNumber, voiceURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", d.cfg.BaseURL, d.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", d.cfg.FromNumber)
	form.Set("Url", voiceURL)
	form.Set("Method", "POST")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrCallPlacement, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallPlacement, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrCallPlacement, resp.StatusCode, string(body))
	}

	var parsed placeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrCallPlacement, err)
	}

	d.logger.Info("Outbound call placed",
		slog.String("call_sid", parsed.SID),
		slog.String("status", parsed.Status),
	)

	return parsed.SID, nil
}
