package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"estate_admin/models"
)

const maxErrorBody = 64 * 1024

// Client talks to the property admin API. All calls carry the session's
// bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	session *Session
	logger  *zap.Logger

	// GetRetryDelay is the pause before the single retry of a GET that got
	// no response
	GetRetryDelay time.Duration
}

func NewClient(baseURL string, httpClient *http.Client, session *Session, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          httpClient,
		session:       session,
		logger:        logger,
		GetRetryDelay: 300 * time.Millisecond,
	}
}

func (c *Client) Session() *Session {
	return c.session
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type propertyResponse struct {
	Message string           `json:"message"`
	Data    *models.Property `json:"data"`
}

// Login exchanges credentials for a token and stores it in the session
func (c *Client) Login(ctx context.Context, email, password string) (*models.User, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/login", body, "application/json", &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("login: server returned no token")
	}

	if err := c.session.Set(resp.Token, resp.User); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return resp.User, nil
}

// Logout revokes the token server-side. The local session is cleared even if
// the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, "", nil)
	if clearErr := c.session.Clear(); clearErr != nil && err == nil {
		err = clearErr
	}
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	return err
}

func (c *Client) ListProperties(ctx context.Context, f models.Filter) (*models.CatalogPage, error) {
	var page models.CatalogPage
	if err := c.do(ctx, http.MethodGet, "/properties?"+f.Query().Encode(), nil, "", &page); err != nil {
		return nil, err
	}
	page.FetchedAt = time.Now()
	return &page, nil
}

// GetProperty accepts both a bare property and one wrapped in {data}
func (c *Client) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/properties/%d", id), nil, "", &raw); err != nil {
		return nil, err
	}

	var wrapped propertyResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var p models.Property
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode property %d: %w", id, err)
	}
	return &p, nil
}

func (c *Client) ListImages(ctx context.Context, propertyID int64) (*models.PropertyImages, error) {
	var out models.PropertyImages
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/properties/%d/images", propertyID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateProperty(ctx context.Context, p *Payload) (*models.Property, error) {
	body, contentType, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var resp propertyResponse
	if err := c.do(ctx, http.MethodPost, "/properties", body, contentType, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.New("create property: response has no data")
	}
	return resp.Data, nil
}

// UpdateProperty sends a sparse update as POST with a PUT override
func (c *Client) UpdateProperty(ctx context.Context, id int64, p *Payload) (string, error) {
	p.Method = http.MethodPut
	body, contentType, err := p.Encode()
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/properties/%d", id), body, contentType, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) DeleteProperty(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/properties/%d", id), nil, "", nil)
}

func (c *Client) RestoreProperty(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/properties/%d/restore", id), nil, "", nil)
}

func (c *Client) UploadImages(ctx context.Context, propertyID int64, images []*models.PendingImage) error {
	if len(images) == 0 {
		return nil
	}
	p := &Payload{Images: images}
	body, contentType, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/properties/%d/images", propertyID), body, contentType, nil)
}

func (c *Client) DeleteImage(ctx context.Context, propertyID, imageID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/properties/%d/images/%d", propertyID, imageID), nil, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil && method == http.MethodGet && ctx.Err() == nil {
		c.logger.Debug("retrying request", zap.String("op", op), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.GetRetryDelay):
		}
		resp, err = c.send(ctx, method, path, body, contentType)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api call", zap.String("op", op), zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		c.session.unauthorized()
		return ErrUnauthorized
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(resp, data)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.http.Do(req)
}

// errorMessage picks the most readable message out of an error response:
// the JSON message or error field, an HTML page title, or the raw body.
func errorMessage(resp *http.Response, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return title
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
