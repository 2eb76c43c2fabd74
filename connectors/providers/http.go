// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"omniflow/platform/connectors/base"
)

// maxErrorBody caps how much of a provider error response is read.
const maxErrorBody = 16 << 10

// httpClient is shared across adapters. Per-call deadlines come from
// the caller's context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

// apiError is the common subset of the providers' error envelopes.
// Google nests under "error", Meta under "error" with a numeric code,
// LinkedIn uses top-level serviceErrorCode/message.
type apiError struct {
	Error *struct {
		Code    json.Number `json:"code"`
		Status  string      `json:"status"`
		Type    string      `json:"type"`
		Message string      `json:"message"`
	} `json:"error"`
	ServiceErrorCode json.Number `json:"serviceErrorCode"`
	Message          string      `json:"message"`
}

// classifyResponse turns a non-2xx provider response into a
// *base.ProviderError. The body is consumed.
func classifyResponse(resp *http.Response) *base.ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	code := ""
	message := string(body)

	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error != nil:
			if envelope.Error.Status != "" {
				code = envelope.Error.Status
			} else if envelope.Error.Type != "" {
				code = envelope.Error.Type
			} else {
				code = envelope.Error.Code.String()
			}
			if envelope.Error.Message != "" {
				message = envelope.Error.Message
			}
		case envelope.ServiceErrorCode.String() != "":
			code = envelope.ServiceErrorCode.String()
			if envelope.Message != "" {
				message = envelope.Message
			}
		}
	}

	return base.ClassifyHTTP(resp.StatusCode, code, message, resp.Header.Get("Retry-After"))
}

// doJSON sends a JSON request with a bearer token and decodes a JSON
// response into out (when out is non-nil). Non-2xx responses come back
// as *base.ProviderError; transport failures are returned raw for the
// caller's classifier.
func doJSON(ctx context.Context, client *http.Client, method, url, accessToken string, in, out any, headers map[string]string) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
