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
	"fmt"
	"net/http"

	"omniflow/platform/connectors/base"
)

const gbpDefaultBaseURL = "https://mybusiness.googleapis.com"

// GBPAdapter publishes local posts to Google Business Profile.
// Account refs are location resource names like
// "accounts/123/locations/456".
type GBPAdapter struct {
	client  *http.Client
	baseURL string
}

// NewGBPAdapter creates the Google Business Profile adapter.
func NewGBPAdapter() *GBPAdapter {
	return &GBPAdapter{
		client:  newHTTPClient(),
		baseURL: gbpDefaultBaseURL,
	}
}

// Provider identifies this adapter.
func (a *GBPAdapter) Provider() base.Provider {
	return base.ProviderGBP
}

type gbpLocalPost struct {
	LanguageCode string           `json:"languageCode"`
	Summary      string           `json:"summary"`
	TopicType    string           `json:"topicType"`
	CallToAction *gbpCallToAction `json:"callToAction,omitempty"`
}

type gbpCallToAction struct {
	ActionType string `json:"actionType"`
	URL        string `json:"url"`
}

type gbpLocalPostResponse struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Publish creates a local post under the account's location.
func (a *GBPAdapter) Publish(ctx context.Context, account *base.ConnectorAccount, accessToken string, payload *base.PublishPayload) (*Result, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	post := gbpLocalPost{
		LanguageCode: "en",
		Summary:      payload.Text,
		TopicType:    "STANDARD",
	}
	if payload.LinkURL != "" {
		post.CallToAction = &gbpCallToAction{ActionType: "LEARN_MORE", URL: payload.LinkURL}
	}

	url := fmt.Sprintf("%s/v4/%s/localPosts", a.baseURL, account.AccountRef)

	var created gbpLocalPostResponse
	if err := doJSON(ctx, a.client, http.MethodPost, url, accessToken, post, &created, nil); err != nil {
		return nil, err
	}

	status := "live"
	if created.State != "" && created.State != "LIVE" {
		status = "queued"
	}

	return &Result{ExternalID: created.Name, Status: status}, nil
}

// Healthcheck fetches the location to prove the token still works.
func (a *GBPAdapter) Healthcheck(ctx context.Context, account *base.ConnectorAccount, accessToken string) error {
	url := fmt.Sprintf("%s/v4/%s", a.baseURL, account.AccountRef)
	return doJSON(ctx, a.client, http.MethodGet, url, accessToken, nil, nil, nil)
}
