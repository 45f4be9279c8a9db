// Package facematch talks to the external face recognition service.
// The service is treated as an opaque classifier: a photo goes in, a
// worker code and a confidence score come out.
package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable covers timeouts, transport failures and 5xx answers.
	ErrUnavailable = errors.New("face matcher unavailable")
	// ErrNoFace means the service could not find a face in the photo.
	ErrNoFace = errors.New("no face detected")
)

type Match struct {
	WorkerCode string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxPhotoPx int
}

type Client struct {
	baseURL string
	timeout time.Duration
	maxPx   int
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		maxPx:   cfg.MaxPhotoPx,
		http:    &http.Client{},
	}
}

// Match identifies the worker in photo. A photo without a recognizable
// face returns an empty Match and no error.
func (c *Client) Match(ctx context.Context, photo []byte) (Match, error) {
	body, ctype, err := c.form(photo, nil)
	if err != nil {
		return Match{}, err
	}
	resp, err := c.post(ctx, "/v1/match", body, ctype)
	if err != nil {
		return Match{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Match{}, nil
	case resp.StatusCode >= 500:
		return Match{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Match{}, fmt.Errorf("face matcher: unexpected status %d", resp.StatusCode)
	}

	var m Match
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Match{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	m.WorkerCode = strings.TrimSpace(m.WorkerCode)
	return m, nil
}

// Enroll registers photo as the reference face for workerCode.
func (c *Client) Enroll(ctx context.Context, workerCode string, photo []byte) error {
	body, ctype, err := c.form(photo, map[string]string{"label": workerCode})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/v1/enroll", body, ctype)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrNoFace
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("face matcher: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) form(photo []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	img, err := NormalizePhoto(photo, c.maxPx)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("image", "photo.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// post bounds the call by the configured timeout and folds every
// transport error into ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, body io.Reader, ctype string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", ctype)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
