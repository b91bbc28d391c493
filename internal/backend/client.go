// Package backend talks to the resume scoring backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// The backend is commonly exposed through an ngrok tunnel, which serves an
// interstitial page unless this header is present.
const skipBrowserWarning = "ngrok-skip-browser-warning"

var (
	placeholderSkills = []string{"React", "System Design", "Python", "TypeScript", "AWS", "Docker"}
	defaultSkills     = []string{"React", "Python", "TypeScript"}
)

// ErrNoBaseURL is returned when the client has no backend configured.
var ErrNoBaseURL = errors.New("backend base URL not configured")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend error (status %d)", e.Code)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.Code, e.Body)
}

// Client calls the scoring backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *RetryPolicy
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// UploadResume posts the resume to the backend and maps the returned audit
// to a Profile.
func (c *Client) UploadResume(ctx context.Context, filename string, r io.Reader) (*Profile, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading resume: %w", err)
	}

	var report Report
	err = c.retry.Execute(ctx, func() error {
		body, contentType, err := multipartBody(filename, data)
		if err != nil {
			return err
		}
		respBody, err := c.post(ctx, "/upload-resume", contentType, body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(respBody, &report); err != nil {
			return fmt.Errorf("invalid response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload resume: %w", err)
	}
	return profileFromReport(filename, &report), nil
}

// UploadResumeOrFallback is UploadResume that never fails: on any error it
// logs and returns a placeholder profile so the recruiter can proceed.
func (c *Client) UploadResumeOrFallback(ctx context.Context, filename string, r io.Reader) *Profile {
	p, err := c.UploadResume(ctx, filename, r)
	if err != nil {
		c.logger.Warn("resume upload failed, using placeholder profile", "file", filename, "error", err)
		return PlaceholderProfile(filename)
	}
	return p
}

// SendFocusConfig posts the recruiter's focus configuration.
func (c *Client) SendFocusConfig(ctx context.Context, fc FocusConfig) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	if fc.FocusTopics == nil {
		fc.FocusTopics = []string{}
	}
	payload, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshaling focus config: %w", err)
	}
	err = c.retry.Execute(ctx, func() error {
		_, err := c.post(ctx, "/focus-config", "application/json", bytes.NewReader(payload))
		return err
	})
	if err != nil {
		return fmt.Errorf("send focus config: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(skipBrowserWarning, "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

func multipartBody(filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// CandidateName derives a display name from a resume file name:
// "jane_doe.pdf" becomes "jane doe".
func CandidateName(filename string) string {
	name := filepath.Base(filename)
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name = name[:len(name)-len(".pdf")]
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" || name == "." {
		return "Candidate"
	}
	return name
}

// PlaceholderProfile is the profile used when the backend is unreachable.
func PlaceholderProfile(filename string) *Profile {
	return &Profile{
		CandidateID:    CandidateName(filename),
		Skills:         append([]string(nil), placeholderSkills...),
		FocusTopics:    []string{},
		IntegrityCheck: true,
	}
}

func profileFromReport(filename string, r *Report) *Profile {
	id := r.ContactDetails.Name
	if id == "" {
		id = CandidateName(filename)
	}
	skills := r.ResumeClaims.Skills
	if len(skills) == 0 {
		skills = append([]string(nil), defaultSkills...)
	}
	return &Profile{
		CandidateID:    id,
		Skills:         skills,
		FocusTopics:    []string{},
		IntegrityCheck: r.Summary.IntegrityLevel != "Low",
		Report:         r,
	}
}
