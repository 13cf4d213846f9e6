/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixelruler/internal/export"
)

// Client is a minimal HTTP client for the read-only backend API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// RequestToken obtains a bearer token for subject and keeps it on the client.
func (c *Client) RequestToken(ctx context.Context, subject string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", map[string]any{"subject": subject}, &out); err != nil {
		return "", err
	}
	c.Token = out.Token
	return out.Token, nil
}

// ListSessions returns the published sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]PublishedSession, error) {
	var list []PublishedSession
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SessionMeasurements fetches the records of a published session.
func (c *Client) SessionMeasurements(ctx context.Context, sessionID int64) ([]export.Record, error) {
	var env struct {
		SessionID    int64           `json:"session_id"`
		Measurements []export.Record `json:"measurements"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d/measurements", sessionID), nil, &env); err != nil {
		return nil, err
	}
	return env.Measurements, nil
}
