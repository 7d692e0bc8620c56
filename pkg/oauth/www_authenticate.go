// Package oauth holds OAuth helpers shared by the gateway's client-facing
// endpoints and its upstream client.
package oauth

import (
	"fmt"
	"regexp"
	"strings"
)

// WWWAuthenticateParams contains the parameters of a Bearer challenge.
type WWWAuthenticateParams struct {
	// Scheme is the authentication scheme (e.g., "Bearer").
	Scheme string

	Realm            string
	Scope            string
	Error            string
	ErrorDescription string

	// ResourceMetadataURL points at the RFC 9728 protected resource document.
	ResourceMetadataURL string
}

var challengeParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// BearerChallenge builds the WWW-Authenticate value sent with 401 responses
// from /mcp.
func BearerChallenge(resourceMetadataURL string) string {
	return (&WWWAuthenticateParams{
		Scheme:              "Bearer",
		ResourceMetadataURL: resourceMetadataURL,
	}).String()
}

// String formats the parameters as a header value. Empty parameters are
// omitted.
func (p *WWWAuthenticateParams) String() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, fmt.Sprintf(`%s="%s"`, key, strings.ReplaceAll(value, `"`, `'`)))
		}
	}
	add("realm", p.Realm)
	add("scope", p.Scope)
	add("error", p.Error)
	add("error_description", p.ErrorDescription)
	add("resource_metadata", p.ResourceMetadataURL)

	if len(parts) == 0 {
		return scheme
	}
	return scheme + " " + strings.Join(parts, ", ")
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value. It returns
// nil for an empty header.
//
// Example headers:
//
//	Bearer resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"
//	Bearer error="invalid_token", error_description="The access token expired"
func ParseWWWAuthenticate(header string) *WWWAuthenticateParams {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parts := strings.SplitN(header, " ", 2)
	params := &WWWAuthenticateParams{Scheme: parts[0]}
	if len(parts) == 1 {
		return params
	}

	for _, match := range challengeParamRegex.FindAllStringSubmatch(parts[1], -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			params.Realm = value
		case "scope":
			params.Scope = value
		case "error":
			params.Error = value
		case "error_description":
			params.ErrorDescription = value
		case "resource_metadata":
			params.ResourceMetadataURL = value
		}
	}

	return params
}
