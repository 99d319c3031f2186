package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"pet-companion-system/utils"
)

// TokenSource supplies a fresh bearer credential for remote writes. Wired to
// SyncBridge.EnsureAuthenticated so the bounded auth retry policy applies to
// every remote call.
type TokenSource func(ctx context.Context) (string, error)

// DocumentClient talks to the remote document service over HTTP. Change
// subscriptions are polled — the remote API is plain request/response, so the
// client re-reads the document on an interval and notifies only on change.
type DocumentClient struct {
	BaseURL      string
	ServiceToken string
	Tokens       TokenSource
	HTTPClient   *http.Client
	PollInterval time.Duration
}

func NewDocumentClient(baseURL, serviceToken string, tokens TokenSource) *DocumentClient {
	return &DocumentClient{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		Tokens:       tokens,
		HTTPClient:   utils.HTTPClient,
		PollInterval: 2 * time.Second,
	}
}

func (c *DocumentClient) docURL(collection, id string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid document service URL %q: %w", c.BaseURL, err)
	}
	return base.JoinPath("/api/v1/docs", collection, id).String(), nil
}

func (c *DocumentClient) do(ctx context.Context, method, rawURL string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Service-Token", c.ServiceToken)

	if c.Tokens != nil {
		token, err := c.Tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("credential exchange failed: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document service request failed: %w", err)
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("document service returned %d: %s", resp.StatusCode, string(body))
}

func (c *DocumentClient) Get(ctx context.Context, collection, id string) (Document, error) {
	u, err := c.docURL(collection, id)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func (c *DocumentClient) List(ctx context.Context, collection string) ([]DocumentSnapshot, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid document service URL %q: %w", c.BaseURL, err)
	}
	resp, err := c.do(ctx, http.MethodGet, base.JoinPath("/api/v1/docs", collection).String(), nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var out struct {
		Documents []struct {
			ID     string   `json:"id"`
			Fields Document `json:"fields"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	snaps := make([]DocumentSnapshot, 0, len(out.Documents))
	for _, d := range out.Documents {
		snaps = append(snaps, DocumentSnapshot{ID: d.ID, Data: d.Fields})
	}
	return snaps, nil
}

func (c *DocumentClient) Query(ctx context.Context, collection, field string, op QueryOp, value interface{}) ([]DocumentSnapshot, error) {
	u, err := c.docURL(collection, "query")
	if err != nil {
		return nil, err
	}
	reqBody := map[string]interface{}{"field": field, "op": string(op), "value": value}
	resp, err := c.do(ctx, http.MethodPost, u, reqBody)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var out struct {
		Documents []struct {
			ID     string   `json:"id"`
			Fields Document `json:"fields"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}

	snaps := make([]DocumentSnapshot, 0, len(out.Documents))
	for _, d := range out.Documents {
		snaps = append(snaps, DocumentSnapshot{ID: d.ID, Data: d.Fields})
	}
	return snaps, nil
}

func (c *DocumentClient) Set(ctx context.Context, collection, id string, fields Document, merge bool) error {
	u, err := c.docURL(collection, id)
	if err != nil {
		return err
	}
	if merge {
		u += "?merge=true"
	}
	resp, err := c.do(ctx, http.MethodPut, u, fields)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return remoteError(resp)
	}
	return nil
}

func (c *DocumentClient) Update(ctx context.Context, collection, id string, fields Document) error {
	u, err := c.docURL(collection, id)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPatch, u, fields)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp)
	}
	return nil
}

func (c *DocumentClient) Delete(ctx context.Context, collection, id string) error {
	u, err := c.docURL(collection, id)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return remoteError(resp)
	}
	return nil
}

// Subscribe polls the document until unsubscribed. Errors are logged and the
// next tick retries; deletion of the document is not delivered.
func (c *DocumentClient) Subscribe(collection, id string, onChange func(Document)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(c.PollInterval)
		defer ticker.Stop()

		var last Document
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				doc, err := c.Get(ctx, collection, id)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("[DOCS] poll %s/%s failed: %v", collection, id, err)
					}
					continue
				}
				if reflect.DeepEqual(doc, last) {
					continue
				}
				last = doc
				onChange(doc)
			}
		}
	}()

	return cancel, nil
}
