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

package base

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidateRedirectURI checks a callback redirect URI against the
// configured allow-list. Comparison is byte-for-byte: no normalization,
// no prefix matching. The URI must also parse and use http or https.
func ValidateRedirectURI(rawURI string, allowed []string) error {
	if rawURI == "" {
		return &AuthError{Op: "redirect_uri", Message: "redirect uri cannot be empty"}
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return &AuthError{Op: "redirect_uri", Message: "redirect uri is not a valid URL"}
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return &AuthError{Op: "redirect_uri", Message: fmt.Sprintf("redirect uri scheme %q is not allowed", parsed.Scheme)}
	}
	if parsed.Fragment != "" {
		return &AuthError{Op: "redirect_uri", Message: "redirect uri must not contain a fragment"}
	}

	for _, a := range allowed {
		if rawURI == a {
			return nil
		}
	}
	return &AuthError{Op: "redirect_uri", Message: "redirect uri is not on the allow-list"}
}

var ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// maxErrorMessageLength bounds sanitized messages stored on health
// records and audit rows
const maxErrorMessageLength = 200

// SanitizeErrorMessage strips control characters and truncates a
// provider-originated message before it crosses the audit/diagnostics
// boundary. Raw provider bodies that may contain credentials must be
// reduced to a category plus this sanitized message, nothing more.
func SanitizeErrorMessage(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = ansiEscapeRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > maxErrorMessageLength {
		s = s[:maxErrorMessageLength] + "...[truncated]"
	}
	return s
}

// SanitizeLogString removes or escapes characters that could be used
// for log injection
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiEscapeRe.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}
