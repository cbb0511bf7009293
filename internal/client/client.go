// Package client talks to the evidence server on behalf of the command-line tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zainulabideen041/storink/internal/integrity"
	"github.com/zainulabideen041/storink/internal/models"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is an HTTP client bound to one server and, after login, one session token.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a Client for baseURL. A nil hc gets a client with a 30s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer token.
func (c *Client) Token() string { return c.token }

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// do sends body (JSON-encoded unless it is an io.Reader) and decodes the
// response envelope into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var (
		rd          io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case io.Reader:
		rd = b
		contentType = "application/octet-stream"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope
		if json.Unmarshal(data, &env) != nil || env.Message == "" {
			env.Message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// Registration is the payload of Register.
type Registration struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Identity     string `json:"identity,omitempty"`
	JobTitle     string `json:"jobTitle,omitempty"`
	UsagePurpose string `json:"usagePurpose,omitempty"`
}

// Register starts onboarding. The server emails a verification code.
func (c *Client) Register(ctx context.Context, r Registration) error {
	return c.do(ctx, http.MethodPost, "/auth/register", r, nil)
}

// VerifyEmail submits the code received after Register.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) error {
	return c.do(ctx, http.MethodPost, "/auth/verify-email", map[string]string{"email": email, "code": code}, nil)
}

// Login authenticates and keeps the returned token on c.
func (c *Client) Login(ctx context.Context, email, password string) (models.Claims, error) {
	var out struct {
		Token string        `json:"token"`
		User  models.Claims `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &out); err != nil {
		return models.Claims{}, err
	}
	c.token = out.Token
	return out.User, nil
}

// Blob identifies uploaded bytes on the server.
type Blob struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Upload stores raw bytes held by ownerID and returns where they live.
func (c *Client) Upload(ctx context.Context, ownerID string, r io.Reader) (Blob, error) {
	var out struct {
		Blob Blob `json:"blob"`
	}
	path := "/blob/upload?owner=" + url.QueryEscape(ownerID)
	if err := c.do(ctx, http.MethodPost, path, r, &out); err != nil {
		return Blob{}, err
	}
	return out.Blob, nil
}

// Capture hashes content locally, uploads it and records the screenshot for
// ownerID. The digests are taken before the bytes leave this process.
func (c *Client) Capture(ctx context.Context, ownerID string, content []byte, notes string) (*models.Screenshot, error) {
	d, err := integrity.Compute(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	blob, err := c.Upload(ctx, ownerID, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var out struct {
		Screenshot models.Screenshot `json:"screenshot"`
	}
	err = c.do(ctx, http.MethodPost, "/screenshot/create/"+url.PathEscape(ownerID), map[string]string{
		"url":        blob.URL,
		"blobId":     blob.ID,
		"sha256Hash": d.SHA256,
		"md5Hash":    d.MD5,
		"notes":      notes,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("record screenshot: %w", err)
	}
	return &out.Screenshot, nil
}

// Verify sends candidate to be compared with the digest recorded for screenshot id.
func (c *Client) Verify(ctx context.Context, id string, candidate io.Reader) (*models.IntegrityResult, error) {
	var out struct {
		Result models.IntegrityResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/screenshot/verify/"+url.PathEscape(id), candidate, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// Screenshots lists ownerID's screenshots.
func (c *Client) Screenshots(ctx context.Context, ownerID string) ([]models.Screenshot, error) {
	var out struct {
		Screenshots []models.Screenshot `json:"screenshots"`
	}
	if err := c.do(ctx, http.MethodGet, "/screenshot/get-all/"+url.PathEscape(ownerID), nil, &out); err != nil {
		return nil, err
	}
	return out.Screenshots, nil
}

// CreateCase groups screenshots into a new case for ownerID.
func (c *Client) CreateCase(ctx context.Context, ownerID, title, description string, screenshotIDs []string) (*models.Case, error) {
	var out struct {
		Case models.Case `json:"case"`
	}
	err := c.do(ctx, http.MethodPost, "/case/create/"+url.PathEscape(ownerID), map[string]any{
		"title":         title,
		"description":   description,
		"screenshotIds": screenshotIDs,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Case, nil
}

// Cases lists ownerID's cases with their live screenshots.
func (c *Client) Cases(ctx context.Context, ownerID string) ([]models.CaseWithScreenshots, error) {
	var out struct {
		Cases []models.CaseWithScreenshots `json:"cases"`
	}
	if err := c.do(ctx, http.MethodGet, "/case/get-all/"+url.PathEscape(ownerID), nil, &out); err != nil {
		return nil, err
	}
	return out.Cases, nil
}
