package oauth

import "context"

// RedactedToken wraps a bearer token so that it never shows up in logs,
// error strings or JSON output.
//
//	token := oauth.NewRedactedToken("secret-token-value")
//	fmt.Println(token)           // prints: [REDACTED]
//	actualValue := token.Value() // returns: "secret-token-value"
type RedactedToken struct {
	value string
}

// NewRedactedToken creates a new RedactedToken wrapping the given value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the actual token value. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

func (t RedactedToken) String() string {
	return "[REDACTED]"
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{[REDACTED]}"
}

// IsEmpty returns true if the token value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

type bearerTokenKey struct{}

// WithBearerToken returns a context carrying the caller's bearer token.
func WithBearerToken(ctx context.Context, token RedactedToken) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext returns the bearer token placed on ctx by the
// /mcp authentication middleware.
func BearerTokenFromContext(ctx context.Context) (RedactedToken, bool) {
	token, ok := ctx.Value(bearerTokenKey{}).(RedactedToken)
	return token, ok && !token.IsEmpty()
}
