package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dutlab/backend/app/dto"
)

// Client talks to the dutlab HTTP API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) Submit(ctx context.Context, req dto.SubmitRequest) (dto.SubmitResult, error) {
	var out dto.SubmitResult
	err := c.do(ctx, http.MethodPost, "/jobs", nil, req, &out)
	return out, err
}

func (c *Client) Drain(ctx context.Context, deviceID int) (dto.DrainResponse, error) {
	var out dto.DrainResponse
	err := c.do(ctx, http.MethodPost, "/devices/drain", deviceQuery(deviceID), nil, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context, deviceID int) (dto.DrainResponse, error) {
	var out dto.DrainResponse
	err := c.do(ctx, http.MethodPost, "/devices/reset", deviceQuery(deviceID), nil, &out)
	return out, err
}

func (c *Client) Devices(ctx context.Context) ([]dto.DeviceView, error) {
	var out []dto.DeviceView
	err := c.do(ctx, http.MethodGet, "/devices", nil, nil, &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, deviceID int, testName string, limit int) ([]dto.LogRecordView, error) {
	q := url.Values{}
	if deviceID != 0 {
		q.Set("device_id", strconv.Itoa(deviceID))
	}
	if testName != "" {
		q.Set("test_name", testName)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []dto.LogRecordView
	err := c.do(ctx, http.MethodGet, "/logs", q, nil, &out)
	return out, err
}

func (c *Client) Job(ctx context.Context, jobID uint64) (dto.LogRecordView, error) {
	var out dto.LogRecordView
	q := url.Values{"job_id": {strconv.FormatUint(jobID, 10)}}
	err := c.do(ctx, http.MethodGet, "/jobs", q, nil, &out)
	return out, err
}

// Artifact fetches the plaintext capture of a job.
func (c *Client) Artifact(ctx context.Context, jobID uint64) (string, error) {
	var buf bytes.Buffer
	q := url.Values{"job_id": {strconv.FormatUint(jobID, 10)}}
	err := c.do(ctx, http.MethodGet, "/artifacts", q, nil, &buf)
	return buf.String(), err
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out dto.TokenResponse
	err := c.do(ctx, http.MethodPost, "/login", nil, dto.LoginRequest{Username: username, Password: password}, &out)
	return out.AccessToken, err
}

func deviceQuery(id int) url.Values {
	return url.Values{"device_id": {strconv.Itoa(id)}}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
