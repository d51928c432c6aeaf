// Package callcontrol places outbound Twilio calls and serves the markup
// that connects them to the media-stream socket.
package callcontrol

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

	"github.com/rs/zerolog"
)

// TwilioAPIURL is the Twilio REST API root
const TwilioAPIURL = "https://api.twilio.com"

// ErrNotConfigured is returned when Twilio credentials are missing
var ErrNotConfigured = errors.New("twilio credentials not configured")

// Config holds Twilio credentials and the public host of this server
type Config struct {
	AccountSID string
	AuthToken  string
	CallerID   string
	PublicHost string

	APIURL     string // defaults to TwilioAPIURL
	HTTPClient *http.Client
}

// Dialer places outbound calls through the Twilio Calls API
type Dialer struct {
	cfg        Config
	httpClient *http.Client
}

// NewDialer creates a dialer
func NewDialer(cfg Config) *Dialer {
	if cfg.APIURL == "" {
		cfg.APIURL = TwilioAPIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dialer{cfg: cfg, httpClient: client}
}

// Configured reports whether credentials and a caller id are set
func (d *Dialer) Configured() bool {
	return d.cfg.AccountSID != "" && d.cfg.AuthToken != "" && d.cfg.CallerID != ""
}

type callResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Call dials to and points Twilio at /outbound-voice for the call markup.
// It returns the call SID.
func (d *Dialer) Call(ctx context.Context, to string) (string, error) {
	if !d.Configured() {
		return "", ErrNotConfigured
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", strings.TrimRight(d.cfg.APIURL, "/"), d.cfg.AccountSID)
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", d.cfg.CallerID)
	data.Set("Url", "https://"+d.cfg.PublicHost+"/outbound-voice")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to place call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var call callResponse
	_ = json.Unmarshal(body, &call)
	if resp.StatusCode >= 300 {
		if call.Message != "" {
			return "", fmt.Errorf("twilio returned status %d: %s (code %d)", resp.StatusCode, call.Message, call.Code)
		}
		return "", fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}
	if call.SID == "" {
		return "", errors.New("twilio response missing call sid")
	}
	return call.SID, nil
}

// CallHandler serves GET /call?to=+E164
func CallHandler(d *Dialer, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Configured() {
			http.Error(w, "Missing Twilio credentials", http.StatusInternalServerError)
			return
		}
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		if to == "" {
			http.Error(w, "Must provide ?to=+E164Number", http.StatusBadRequest)
			return
		}

		sid, err := d.Call(r.Context(), to)
		if err != nil {
			logger.Error().Err(err).Str("to", to).Msg("Failed to place call")
			http.Error(w, "Failed to dial.", http.StatusInternalServerError)
			return
		}
		logger.Info().Str("to", to).Str("call_sid", sid).Msg("Dialing")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Dialing %s, Call SID: %s", to, sid)
	}
}
