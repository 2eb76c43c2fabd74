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
	"net/http"

	"omniflow/platform/connectors/base"
)

const linkedinDefaultBaseURL = "https://api.linkedin.com"

// LinkedInAdapter publishes UGC posts. Account refs are author URNs
// like "urn:li:organization:123".
type LinkedInAdapter struct {
	client  *http.Client
	baseURL string
}

// NewLinkedInAdapter creates the LinkedIn adapter.
func NewLinkedInAdapter() *LinkedInAdapter {
	return &LinkedInAdapter{
		client:  newHTTPClient(),
		baseURL: linkedinDefaultBaseURL,
	}
}

// Provider identifies this adapter.
func (a *LinkedInAdapter) Provider() base.Provider {
	return base.ProviderLinkedIn
}

type liUGCPost struct {
	Author          string            `json:"author"`
	LifecycleState  string            `json:"lifecycleState"`
	SpecificContent map[string]any    `json:"specificContent"`
	Visibility      map[string]string `json:"visibility"`
}

type liUGCResponse struct {
	ID string `json:"id"`
}

var liHeaders = map[string]string{
	"X-Restli-Protocol-Version": "2.0.0",
}

// Publish creates a UGC post authored by the account's URN.
func (a *LinkedInAdapter) Publish(ctx context.Context, account *base.ConnectorAccount, accessToken string, payload *base.PublishPayload) (*Result, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	shareContent := map[string]any{
		"shareCommentary":    map[string]string{"text": payload.Text},
		"shareMediaCategory": "NONE",
	}
	if payload.LinkURL != "" {
		shareContent["shareMediaCategory"] = "ARTICLE"
		shareContent["media"] = []map[string]any{
			{"status": "READY", "originalUrl": payload.LinkURL},
		}
	}

	post := liUGCPost{
		Author:         account.AccountRef,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var created liUGCResponse
	if err := doJSON(ctx, a.client, http.MethodPost, a.baseURL+"/v2/ugcPosts", accessToken, post, &created, liHeaders); err != nil {
		return nil, err
	}

	return &Result{ExternalID: created.ID, Status: "live"}, nil
}

// Healthcheck fetches the member profile to prove the token still
// works.
func (a *LinkedInAdapter) Healthcheck(ctx context.Context, account *base.ConnectorAccount, accessToken string) error {
	return doJSON(ctx, a.client, http.MethodGet, a.baseURL+"/v2/me", accessToken, nil, nil, liHeaders)
}
