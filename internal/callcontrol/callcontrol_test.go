package callcontrol

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestOutboundVoiceHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	OutboundVoiceHandler("relay.example.com")(rec, httptest.NewRequest(http.MethodPost, "/outbound-voice", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Expected text/xml, got %q", ct)
	}
	var resp struct {
		Connect struct {
			Stream struct {
				URL   string `xml:"url,attr"`
				Track string `xml:"track,attr"`
			} `xml:"Stream"`
		} `xml:"Connect"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid TwiML: %v\n%s", err, rec.Body.String())
	}
	if resp.Connect.Stream.URL != "wss://relay.example.com/twilio-audio" || resp.Connect.Stream.Track != "inbound_track" {
		t.Errorf("Unexpected stream %+v", resp.Connect.Stream)
	}
}

func TestOutboundVoiceHandler_FallsBackToRequestHost(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/outbound-voice", nil)
	req.Host = "tunnel.example.net"
	OutboundVoiceHandler("")(rec, req)

	if !strings.Contains(rec.Body.String(), `url="wss://tunnel.example.net/twilio-audio"`) {
		t.Errorf("Expected request host in stream url, got %s", rec.Body.String())
	}
}

type placedCall struct {
	path string
	user string
	pass string
	form url.Values
}

func newFakeTwilio(t *testing.T, status int, body string) (*httptest.Server, chan placedCall) {
	t.Helper()
	calls := make(chan placedCall, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		user, pass, _ := r.BasicAuth()
		calls <- placedCall{path: r.URL.Path, user: user, pass: pass, form: form}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testDialer(apiURL string) *Dialer {
	return NewDialer(Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		CallerID:   "+15550000000",
		PublicHost: "relay.example.com",
		APIURL:     apiURL,
	})
}

func TestDialer_Call(t *testing.T) {
	srv, calls := newFakeTwilio(t, http.StatusCreated, `{"sid":"CA999","status":"queued"}`)

	sid, err := testDialer(srv.URL).Call(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sid != "CA999" {
		t.Errorf("Expected CA999, got %q", sid)
	}

	c := <-calls
	if c.path != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Errorf("Unexpected path %s", c.path)
	}
	if c.user != "AC123" || c.pass != "secret" {
		t.Errorf("Expected basic auth with account credentials, got %q:%q", c.user, c.pass)
	}
	if c.form.Get("To") != "+15551234567" || c.form.Get("From") != "+15550000000" || c.form.Get("Url") != "https://relay.example.com/outbound-voice" {
		t.Errorf("Unexpected form %v", c.form)
	}
}

func TestDialer_CallErrors(t *testing.T) {
	srv, _ := newFakeTwilio(t, http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`)
	if _, err := testDialer(srv.URL).Call(context.Background(), "nope"); err == nil || !strings.Contains(err.Error(), "Invalid 'To'") {
		t.Errorf("Expected Twilio error message, got %v", err)
	}

	if _, err := NewDialer(Config{}).Call(context.Background(), "+1555"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestCallHandler(t *testing.T) {
	srv, _ := newFakeTwilio(t, http.StatusCreated, `{"sid":"CA1"}`)

	tests := []struct {
		name   string
		dialer *Dialer
		query  string
		status int
		body   string
	}{
		{"missing credentials", NewDialer(Config{}), "?to=%2B15551234567", http.StatusInternalServerError, "Missing Twilio credentials"},
		{"missing to", testDialer(srv.URL), "", http.StatusBadRequest, "Must provide"},
		{"placed", testDialer(srv.URL), "?to=%2B15551234567", http.StatusOK, "Dialing +15551234567, Call SID: CA1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			CallHandler(tt.dialer, zerolog.Nop())(rec, httptest.NewRequest(http.MethodGet, "/call"+tt.query, nil))
			if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("Expected %d %q, got %d %q", tt.status, tt.body, rec.Code, rec.Body.String())
			}
		})
	}
}
