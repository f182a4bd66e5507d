package tokens

import "github.com/golang-jwt/jwt/v5"

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Types lists every token type that owns a secret.
var Types = []Type{TypeAccess, TypeRefresh}

// Valid reports whether t is a known token type.
func (t Type) Valid() bool {
	return t == TypeAccess || t == TypeRefresh
}

// User is the user snapshot embedded in a token at issuance.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	DisplayName  string   `json:"display_name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// Meta records the client that requested the token.
type Meta struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// Claims is the JWT payload. Subject is the user ID; SessionID links the
// token to the presence session started at login.
type Claims struct {
	jwt.RegisteredClaims

	Type      Type   `json:"type"`
	User      User   `json:"user"`
	Meta      Meta   `json:"meta"`
	SessionID string `json:"sid,omitempty"`
}
