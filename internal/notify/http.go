package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	startCallPath = "/api/video/integration/v1/start_call"
	endCallPath   = "/api/video/integration/v1/end_call"

	defaultTimeout    = 5 * time.Second
	tokenExpiryMargin = 30 * time.Second
)

// HTTPConfig configures the notification API client.
// ClientSecret must not be logged.
type HTTPConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	SystemName   string
	Timeout      time.Duration
}

// HTTPNotifier posts start/end call requests to the TV integration API.
//
// Authentication is an OAuth2 client-credentials grant with the client id and secret
// sent as HTTP Basic. The access token is cached and reused until shortly before it expires.
type HTTPNotifier struct {
	baseURL    string
	systemName string
	client     *http.Client
}

func NewHTTPNotifier(cfg HTTPConfig) (*HTTPNotifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("notify: base url and token url are required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("notify: client credentials are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SystemName == "" {
		cfg.SystemName = "VirtualCare"
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// The token endpoint gets the same bounded client as the API calls.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), tokenExpiryMargin)

	client := oauth2.NewClient(tokenCtx, ts)
	client.Timeout = cfg.Timeout

	return &HTTPNotifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		systemName: cfg.SystemName,
		client:     client,
	}, nil
}

func (n *HTTPNotifier) Name() string { return "tv_integration" }

type startCallPayload struct {
	LocationID string `json:"locationId"`
	MeetingID  string `json:"meetingId"`
	CallerName string `json:"callerName"`
	SystemName string `json:"systemName"`
	CallType   string `json:"callType"`
}

type endCallPayload struct {
	LocationID string `json:"locationId"`
	MeetingID  string `json:"meetingId"`
	SystemName string `json:"systemName"`
}

func (n *HTTPNotifier) SignalIncoming(ctx context.Context, k Knock) error {
	callType := k.CallType
	if callType == "" {
		callType = "regular"
	}
	return n.post(ctx, startCallPath, startCallPayload{
		LocationID: k.LocationID,
		MeetingID:  k.MeetingID,
		CallerName: k.CallerName,
		SystemName: n.systemName,
		CallType:   callType,
	})
}

func (n *HTTPNotifier) SignalRestore(ctx context.Context, locationID, meetingID string) error {
	return n.post(ctx, endCallPath, endCallPayload{
		LocationID: locationID,
		MeetingID:  meetingID,
		SystemName: n.systemName,
	})
}

func (n *HTTPNotifier) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
