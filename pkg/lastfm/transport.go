package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// errorEnvelope is the JSON error shape returned by the API. Successful
// responses never carry the "error" field.
type errorEnvelope struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

// call makes a single HTTP request to the Last.fm API and returns the raw
// JSON response body.
//
// It handles:
// - Request construction with proper headers
// - Signature calculation for signed requests
// - API error detection (JSON error envelope)
// - Context cancellation
//
// There is deliberately no retry loop here: callers own retry policy, and a
// transport that silently retried would stack its own backoff on top of
// theirs. Network failures come back as *url.Error, non-200 statuses as
// *HTTPError, and API-level failures as *Error.
func (c *Client) call(ctx context.Context, method string, params map[string]string, requiresAuth bool) ([]byte, error) {
	// Build request parameters
	reqParams := make(map[string]string)
	for k, v := range params {
		reqParams[k] = v
	}
	reqParams["method"] = method
	reqParams["api_key"] = c.apiKey

	// Add session key for authenticated requests
	if requiresAuth {
		if c.sessionKey == "" {
			return nil, ErrNoSessionKey
		}
		reqParams["sk"] = c.sessionKey
	}

	// The signature covers every parameter except "format"; Last.fm
	// excludes it from signing, so it is appended to the form afterwards.
	signature := calculateSignature(reqParams, c.apiSecret)

	formData := url.Values{}
	for k, v := range reqParams {
		formData.Add(k, v)
	}
	formData.Add("api_sig", signature)
	formData.Add("format", "json")

	c.logDebugf("lastfm: calling %s", method)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "scrobbled/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// The API reports most failures with HTTP 200 plus an error envelope,
	// but auth rejections can surface as 403 with no usable body.
	if resp.StatusCode != http.StatusOK {
		var envelope errorEnvelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Code != 0 {
			return nil, &Error{Code: envelope.Code, Message: envelope.Message}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if envelope.Code != 0 {
		return nil, &Error{Code: envelope.Code, Message: envelope.Message}
	}

	c.logDebugf("lastfm: %s succeeded", method)
	return body, nil
}
