package oauth

import (
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    WWWAuthenticateParams
		wantNil bool
	}{
		{
			name:    "empty",
			header:  "  ",
			wantNil: true,
		},
		{
			name:   "scheme only",
			header: "Bearer",
			want:   WWWAuthenticateParams{Scheme: "Bearer"},
		},
		{
			name:   "resource metadata",
			header: `Bearer resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`,
			want: WWWAuthenticateParams{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://gw.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:   "error with description and scope",
			header: `Bearer realm="gw", error="invalid_token", error_description="The access token expired", scope="tasks:read tasks:write"`,
			want: WWWAuthenticateParams{
				Scheme:           "Bearer",
				Realm:            "gw",
				Error:            "invalid_token",
				ErrorDescription: "The access token expired",
				Scope:            "tasks:read tasks:write",
			},
		},
		{
			name:   "keys are case insensitive",
			header: `Bearer REALM="gw"`,
			want:   WWWAuthenticateParams{Scheme: "Bearer", Realm: "gw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWWWAuthenticate(tt.header)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected params, got nil")
			}
			if *got != tt.want {
				t.Errorf("ParseWWWAuthenticate() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestBearerChallenge(t *testing.T) {
	got := BearerChallenge("https://gw.example.com/.well-known/oauth-protected-resource")
	want := `Bearer resource_metadata="https://gw.example.com/.well-known/oauth-protected-resource"`
	if got != want {
		t.Errorf("BearerChallenge() = %s, want %s", got, want)
	}

	parsed := ParseWWWAuthenticate(got)
	if parsed.ResourceMetadataURL != "https://gw.example.com/.well-known/oauth-protected-resource" {
		t.Errorf("Round trip lost resource_metadata: %+v", parsed)
	}
}

func TestWWWAuthenticateParams_String(t *testing.T) {
	p := &WWWAuthenticateParams{Error: "invalid_token", ErrorDescription: `bad "quoted" value`}
	want := `Bearer error="invalid_token", error_description="bad 'quoted' value"`
	if got := p.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}

	if got := (&WWWAuthenticateParams{}).String(); got != "Bearer" {
		t.Errorf("Expected bare scheme, got %s", got)
	}
}
