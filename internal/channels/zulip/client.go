package zulip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrBadEventQueue signals that the server no longer knows our queue id.
// The loop treats it as registration-needed, not a transport failure.
var ErrBadEventQueue = errors.New("zulip: event queue expired")

const (
	apiPath = "/api/v1"

	// longPollTimeout bounds one Events call. The server blocks up to its
	// own heartbeat interval (~60s); give it headroom.
	longPollTimeout = 90 * time.Second

	requestTimeout = 30 * time.Second

	// sendsPerSecond paces outbound REST writes (sends, typing, uploads).
	sendsPerSecond = 5
)

// Client is a thin request/response wrapper over the Zulip REST API.
type Client struct {
	baseURL string
	email   string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the given site with basic-auth credentials.
func NewClient(site, email, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(site, "/") + apiPath,
		email:   email,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: longPollTimeout},
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), sendsPerSecond),
	}
}

// RegisterQueue registers a new event queue subscribed to message events.
func (c *Client) RegisterQueue(ctx context.Context) (*Queue, error) {
	form := url.Values{
		"event_types":    {`["message"]`},
		"apply_markdown": {"false"},
	}
	var resp struct {
		apiResponse
		QueueID     string `json:"queue_id"`
		LastEventID int64  `json:"last_event_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/register", form, &resp); err != nil {
		return nil, fmt.Errorf("register queue: %w", err)
	}
	return &Queue{QueueID: resp.QueueID, LastEventID: resp.LastEventID}, nil
}

// Events long-polls for events after lastEventID. An empty slice is a normal
// outcome (server heartbeat interval elapsed); callers re-poll immediately.
func (c *Client) Events(ctx context.Context, queueID string, lastEventID int64) ([]Event, error) {
	form := url.Values{
		"queue_id":      {queueID},
		"last_event_id": {strconv.FormatInt(lastEventID, 10)},
	}
	var resp struct {
		apiResponse
		Events []Event `json:"events"`
	}
	err := c.call(ctx, http.MethodGet, "/events?"+form.Encode(), nil, &resp)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.Code == "BAD_EVENT_QUEUE_ID" {
			return nil, ErrBadEventQueue
		}
		return nil, fmt.Errorf("poll events: %w", err)
	}
	return resp.Events, nil
}

// SendDirect sends a direct message to the user and returns the message id.
func (c *Client) SendDirect(ctx context.Context, userID int64, content string) (int64, error) {
	form := url.Values{
		"type":    {"private"},
		"to":      {fmt.Sprintf("[%d]", userID)},
		"content": {content},
	}
	return c.sendMessage(ctx, form)
}

// SendStream sends a message to the stream under the topic and returns the
// message id.
func (c *Client) SendStream(ctx context.Context, stream, topic, content string) (int64, error) {
	if topic == "" {
		topic = "(no topic)"
	}
	form := url.Values{
		"type":    {"stream"},
		"to":      {stream},
		"topic":   {topic},
		"content": {content},
	}
	return c.sendMessage(ctx, form)
}

func (c *Client) sendMessage(ctx context.Context, form url.Values) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var resp struct {
		apiResponse
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/messages", form, &resp); err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// SetTyping starts or stops the typing indicator toward a DM recipient.
// op is "start" or "stop".
func (c *Client) SetTyping(ctx context.Context, op string, userID int64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	form := url.Values{
		"op": {op},
		"to": {fmt.Sprintf("[%d]", userID)},
	}
	var resp apiResponse
	if err := c.call(ctx, http.MethodPost, "/typing", form, &resp); err != nil {
		return fmt.Errorf("typing %s: %w", op, err)
	}
	return nil
}

// UploadFile uploads media and returns its reference URI.
func (c *Client) UploadFile(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user_uploads", &body)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.email, c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		apiResponse
		URI string `json:"uri"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	return resp.URI, nil
}

// OwnProfile fetches the bot's own identity.
func (c *Client) OwnProfile(ctx context.Context) (*Profile, error) {
	var resp struct {
		apiResponse
		Profile
	}
	if err := c.call(ctx, http.MethodGet, "/users/me", nil, &resp); err != nil {
		return nil, fmt.Errorf("get own profile: %w", err)
	}
	return &Profile{UserID: resp.UserID, FullName: resp.FullName}, nil
}

// call performs one REST request and decodes the envelope into out.
// out must embed apiResponse (directly or via an anonymous struct field).
func (c *Client) call(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	// Non-poll requests get a tighter deadline than the shared http client.
	if !strings.HasPrefix(path, "/events") {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.email, c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	// The envelope decodes even on HTTP errors; Zulip reports failures as
	// {"result":"error","msg":...,"code":...}.
	var env apiResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("http %d: decode response: %w", resp.StatusCode, err)
	}
	if env.Result != "success" {
		return &apiError{Code: env.Code, Msg: env.Msg}
	}
	return json.Unmarshal(data, out)
}
