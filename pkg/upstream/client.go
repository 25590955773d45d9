// Package upstream implements the typed client for the browser-automation
// backend. Every operation applies a uniform timeout, keeps the transport
// alive between slow calls, and returns classified errors that drive the
// pipeline's retry and recovery behavior.
package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a thin typed wrapper over the upstream HTTP API.
type Client struct {
	rc *resty.Client
}

// NewClient creates an upstream client. The timeout is the single upper
// bound applied to every call; browser-driven flows routinely take minutes.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetTransport(transport).
		SetHeader("Accept", "application/json")

	return &Client{rc: rc}
}

// ListContainers returns the URL of the full container spreadsheet.
func (c *Client) ListContainers(ctx context.Context, sessionID string) (*ListResult, error) {
	var body struct {
		Success        bool   `json:"success"`
		FileURL        string `json:"file_url"`
		ContainerCount int    `json:"containers_count"`
		ErrorMsg       string `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"session_id":         sessionID,
			"infinite_scrolling": true,
			"return_url":         true,
		}).
		SetResult(&body).
		Post("/get_containers")
	if cerr := c.classify("get_containers", resp, err, false); cerr != nil {
		return nil, cerr
	}
	if !body.Success || body.FileURL == "" {
		return nil, &Error{Kind: KindPermanent, Op: "get_containers", Message: nonEmpty(body.ErrorMsg, "missing file_url in response")}
	}
	return &ListResult{FileURL: body.FileURL, Count: body.ContainerCount}, nil
}

// ListAppointments returns the URL of the full appointment spreadsheet.
func (c *Client) ListAppointments(ctx context.Context, sessionID string) (*ListResult, error) {
	var body struct {
		Success       bool   `json:"success"`
		FileURL       string `json:"file_url"`
		SelectedCount int    `json:"selected_count"`
		ErrorMsg      string `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"session_id":         sessionID,
			"infinite_scrolling": true,
			"return_url":         true,
		}).
		SetResult(&body).
		Post("/get_appointments")
	if cerr := c.classify("get_appointments", resp, err, false); cerr != nil {
		return nil, cerr
	}
	if !body.Success || body.FileURL == "" {
		return nil, &Error{Kind: KindPermanent, Op: "get_appointments", Message: nonEmpty(body.ErrorMsg, "missing file_url in response")}
	}
	return &ListResult{FileURL: body.FileURL, Count: body.SelectedCount}, nil
}

// GetBulkInfo fetches enrichment for a batch of containers partitioned by
// trade type: timelines with pregate state for imports, booking numbers
// for exports.
func (c *Client) GetBulkInfo(ctx context.Context, sessionID string, importIDs, exportIDs []string) (*BulkInfo, error) {
	var body struct {
		Success       bool         `json:"success"`
		ImportResults []ImportInfo `json:"import_results"`
		ExportResults []ExportInfo `json:"export_results"`
		ErrorMsg      string       `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"session_id":           sessionID,
			"import_container_ids": importIDs,
			"export_container_ids": exportIDs,
		}).
		SetResult(&body).
		Post("/get_info_bulk")
	if cerr := c.classify("get_info_bulk", resp, err, false); cerr != nil {
		return nil, cerr
	}
	if !body.Success {
		return nil, &Error{Kind: KindPermanent, Op: "get_info_bulk", Message: nonEmpty(body.ErrorMsg, "bulk info failed")}
	}
	return &BulkInfo{Imports: body.ImportResults, Exports: body.ExportResults}, nil
}

// CheckAppointments probes appointment availability for one item.
func (c *Client) CheckAppointments(ctx context.Context, sessionID string, req CheckRequest) (*CheckResult, error) {
	var body struct {
		Success        bool     `json:"success"`
		AvailableTimes []string `json:"available_times"`
		CalendarFound  bool     `json:"calendar_found"`
		ScreenshotURL  string   `json:"dropdown_screenshot_url"`
		ErrorMsg       string   `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"session_id":       sessionID,
			"trade_type":       req.TradeType,
			"trucking_company": req.TruckingCompany,
			"terminal":         req.Terminal,
			"move_type":        req.MoveType,
			"container_id":     req.ContainerID,
			"truck_plate":      req.TruckPlate,
			"own_chassis":      req.OwnChassis,
		}).
		SetResult(&body).
		Post("/check_appointments")
	if cerr := c.classify("check_appointments", resp, err, false); cerr != nil {
		return nil, cerr
	}
	if !body.Success {
		return nil, &Error{Kind: KindPermanent, Op: "check_appointments", Message: nonEmpty(body.ErrorMsg, "appointment check failed")}
	}
	return &CheckResult{
		AvailableTimes: body.AvailableTimes,
		CalendarFound:  body.CalendarFound,
		ScreenshotURL:  body.ScreenshotURL,
	}, nil
}

// AcquireSession creates (or reuses) an upstream session for the given
// credentials. A 401 here classifies as AuthInvalid, not SessionInvalid.
func (c *Client) AcquireSession(ctx context.Context, creds Credentials) (*SessionResult, error) {
	var body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		IsNew     bool   `json:"is_new"`
		ErrorMsg  string `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"username":        creds.Username,
			"password":        creds.Password,
			"captcha_api_key": creds.CaptchaAPIKey,
		}).
		SetResult(&body).
		Post("/get_session")
	if cerr := c.classify("get_session", resp, err, true); cerr != nil {
		return nil, cerr
	}
	if !body.Success || body.SessionID == "" {
		return nil, &Error{Kind: KindPermanent, Op: "get_session", Message: nonEmpty(body.ErrorMsg, "missing session_id in response")}
	}
	return &SessionResult{SessionID: body.SessionID, Reused: !body.IsNew}, nil
}

// ListActiveSessions returns the upstream's currently-known sessions for a
// username. An existing session is always preferred over acquiring a new
// one, because acquisition solves a captcha.
func (c *Client) ListActiveSessions(ctx context.Context, username string) ([]string, error) {
	var body struct {
		Success  bool     `json:"success"`
		Sessions []string `json:"sessions"`
		ErrorMsg string   `json:"error"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"username": username}).
		SetResult(&body).
		Post("/get_active_sessions")
	if cerr := c.classify("get_active_sessions", resp, err, true); cerr != nil {
		return nil, cerr
	}
	if !body.Success {
		return nil, &Error{Kind: KindPermanent, Op: "get_active_sessions", Message: nonEmpty(body.ErrorMsg, "active session listing failed")}
	}
	return body.Sessions, nil
}

// Download fetches raw bytes from an upstream-issued URL (spreadsheets and
// screenshots). The URL is already authenticated against the session that
// produced it.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(url)
	if cerr := c.classify("download", resp, err, false); cerr != nil {
		return nil, "", cerr
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

// classify maps a transport error or a non-2xx response to a classified
// *Error, or returns nil for a usable 2xx response.
//
// acquisition flips the meaning of auth-ish statuses: during /get_session
// a 401 means bad credentials (AuthInvalid), while on authenticated calls
// a 400 means the session silently expired (SessionInvalid).
func (c *Client) classify(op string, resp *resty.Response, err error, acquisition bool) error {
	if err != nil {
		// Network-level failure: timeout, reset, DNS. All retriable.
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	if resp == nil {
		return &Error{Kind: KindTransient, Op: op, Message: "no response"}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return &Error{Kind: KindTransient, Op: op, StatusCode: code, Message: trimBody(resp)}
	case code == http.StatusUnauthorized && acquisition:
		return &Error{Kind: KindAuthInvalid, Op: op, StatusCode: code, Message: trimBody(resp)}
	case code == http.StatusBadRequest && !acquisition:
		return &Error{Kind: KindSessionInvalid, Op: op, StatusCode: code, Message: trimBody(resp)}
	default:
		return &Error{Kind: KindPermanent, Op: op, StatusCode: code, Message: trimBody(resp)}
	}
}

func trimBody(resp *resty.Response) string {
	body := resp.String()
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		body = resp.Status()
	}
	return body
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
