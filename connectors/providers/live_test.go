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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"omniflow/platform/connectors/base"
)

func TestLinkedInPublish(t *testing.T) {
	var gotAuth, gotRestli string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/ugcPosts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotRestli = r.Header.Get("X-Restli-Protocol-Version")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "urn:li:ugcPost:99"})
	}))
	defer server.Close()

	adapter := NewLinkedInAdapter()
	adapter.baseURL = server.URL

	account := &base.ConnectorAccount{AccountRef: "urn:li:organization:42"}
	result, err := adapter.Publish(context.Background(), account, "tok-123", &base.PublishPayload{
		Text:    "launch day",
		LinkURL: "https://example.com/launch",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if result.ExternalID != "urn:li:ugcPost:99" {
		t.Errorf("ExternalID = %q", result.ExternalID)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRestli != "2.0.0" {
		t.Errorf("X-Restli-Protocol-Version = %q", gotRestli)
	}
	if gotBody["author"] != "urn:li:organization:42" {
		t.Errorf("author = %v", gotBody["author"])
	}
	if gotBody["lifecycleState"] != "PUBLISHED" {
		t.Errorf("lifecycleState = %v", gotBody["lifecycleState"])
	}
}

func TestLinkedInPublishAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"serviceErrorCode": 65601,
			"message":          "The token used in the request has expired",
		})
	}))
	defer server.Close()

	adapter := NewLinkedInAdapter()
	adapter.baseURL = server.URL

	_, err := adapter.Publish(context.Background(), &base.ConnectorAccount{AccountRef: "urn:li:person:1"}, "stale", &base.PublishPayload{Text: "hi"})
	var pe *base.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *base.ProviderError, got %v", err)
	}
	if pe.Category != base.CategoryAuth {
		t.Errorf("Category = %s, want auth", pe.Category)
	}
	if pe.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("HTTPStatus = %d", pe.HTTPStatus)
	}
}

func TestMetaPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v19.0/page-77/feed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["message"] != "promo" {
			t.Errorf("message = %v", body["message"])
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "page-77_123"})
	}))
	defer server.Close()

	adapter := NewMetaAdapter()
	adapter.baseURL = server.URL

	result, err := adapter.Publish(context.Background(), &base.ConnectorAccount{AccountRef: "page-77"}, "tok", &base.PublishPayload{Text: "promo"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.ExternalID != "page-77_123" {
		t.Errorf("ExternalID = %q", result.ExternalID)
	}
	if result.Status != "live" {
		t.Errorf("Status = %q", result.Status)
	}
}

func TestMetaPublishRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "OAuthException",
				"code":    32,
				"message": "Page request limit reached",
			},
		})
	}))
	defer server.Close()

	adapter := NewMetaAdapter()
	adapter.baseURL = server.URL

	_, err := adapter.Publish(context.Background(), &base.ConnectorAccount{AccountRef: "page-77"}, "tok", &base.PublishPayload{Text: "promo"})
	var pe *base.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *base.ProviderError, got %v", err)
	}
	if pe.Category != base.CategoryRateLimit {
		t.Errorf("Category = %s, want rate_limit", pe.Category)
	}
	if pe.ResetAt == nil {
		t.Error("expected a reset hint from Retry-After")
	}
}

func TestGBPPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/accounts/1/locations/2/localPosts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["summary"] != "we moved" {
			t.Errorf("summary = %v", body["summary"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"name":  "accounts/1/locations/2/localPosts/55",
			"state": "LIVE",
		})
	}))
	defer server.Close()

	adapter := NewGBPAdapter()
	adapter.baseURL = server.URL

	account := &base.ConnectorAccount{AccountRef: "accounts/1/locations/2"}
	result, err := adapter.Publish(context.Background(), account, "tok", &base.PublishPayload{Text: "we moved"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.ExternalID != "accounts/1/locations/2/localPosts/55" {
		t.Errorf("ExternalID = %q", result.ExternalID)
	}
	if result.Status != "live" {
		t.Errorf("Status = %q", result.Status)
	}
}

func TestGBPPublishValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    400,
				"status":  "INVALID_ARGUMENT",
				"message": "Summary too long",
			},
		})
	}))
	defer server.Close()

	adapter := NewGBPAdapter()
	adapter.baseURL = server.URL

	_, err := adapter.Publish(context.Background(), &base.ConnectorAccount{AccountRef: "accounts/1/locations/2"}, "tok", &base.PublishPayload{Text: "x"})
	var pe *base.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *base.ProviderError, got %v", err)
	}
	if pe.Category != base.CategoryValidation {
		t.Errorf("Category = %s, want validation", pe.Category)
	}
	if pe.ProviderCode != "INVALID_ARGUMENT" {
		t.Errorf("ProviderCode = %q", pe.ProviderCode)
	}
}

func TestHealthcheckHitsProvider(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"id":"me"}`))
	}))
	defer server.Close()

	adapter := NewLinkedInAdapter()
	adapter.baseURL = server.URL

	if err := adapter.Healthcheck(context.Background(), &base.ConnectorAccount{AccountRef: "urn:li:person:1"}, "tok"); err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}
	if path != "/v2/me" {
		t.Errorf("path = %q", path)
	}
}

func TestHealthcheckSurfacesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"serviceErrorCode":401,"message":"Invalid access token"}`))
	}))
	defer server.Close()

	adapter := NewLinkedInAdapter()
	adapter.baseURL = server.URL

	err := adapter.Healthcheck(context.Background(), &base.ConnectorAccount{AccountRef: "urn:li:person:1"}, "bad")
	var pe *base.ProviderError
	if !errors.As(err, &pe) || pe.Category != base.CategoryAuth {
		t.Errorf("expected auth failure, got %v", err)
	}
}
