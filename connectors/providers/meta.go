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

const (
	metaDefaultBaseURL = "https://graph.facebook.com"
	metaAPIVersion     = "v19.0"
)

// MetaAdapter publishes to a Facebook Page feed via the Graph API.
// Account refs are page ids.
type MetaAdapter struct {
	client  *http.Client
	baseURL string
}

// NewMetaAdapter creates the Meta adapter.
func NewMetaAdapter() *MetaAdapter {
	return &MetaAdapter{
		client:  newHTTPClient(),
		baseURL: metaDefaultBaseURL,
	}
}

// Provider identifies this adapter.
func (a *MetaAdapter) Provider() base.Provider {
	return base.ProviderMeta
}

type metaFeedPost struct {
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

type metaFeedResponse struct {
	ID string `json:"id"`
}

// Publish posts to the page feed. The page access token is used as the
// bearer token; Graph accepts it in the Authorization header.
func (a *MetaAdapter) Publish(ctx context.Context, account *base.ConnectorAccount, accessToken string, payload *base.PublishPayload) (*Result, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	post := metaFeedPost{
		Message: payload.Text,
		Link:    payload.LinkURL,
	}

	url := fmt.Sprintf("%s/%s/%s/feed", a.baseURL, metaAPIVersion, account.AccountRef)

	var created metaFeedResponse
	if err := doJSON(ctx, a.client, http.MethodPost, url, accessToken, post, &created, nil); err != nil {
		return nil, err
	}

	return &Result{ExternalID: created.ID, Status: "live"}, nil
}

// Healthcheck fetches the page id to prove the token still works.
func (a *MetaAdapter) Healthcheck(ctx context.Context, account *base.ConnectorAccount, accessToken string) error {
	url := fmt.Sprintf("%s/%s/%s?fields=id", a.baseURL, metaAPIVersion, account.AccountRef)
	return doJSON(ctx, a.client, http.MethodGet, url, accessToken, nil, nil, nil)
}
