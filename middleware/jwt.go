package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTPrincipal returns a [PrincipalFunc] that resolves the principal from
// the subject claim of an HS256 bearer token. Requests without a valid,
// signed token are rejected.
//
// This covers the common deployment where the surrounding service already
// authenticates callers with JWTs and stepup only needs a trustworthy
// principal identifier.
func JWTPrincipal(secret []byte) PrincipalFunc {
	return func(r *http.Request) (string, bool) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return "", false
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return "", false
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			return "", false
		}
		return subject, true
	}
}

// HeaderPrincipal returns a [PrincipalFunc] that trusts the named header.
// Only suitable behind a gateway that strips the header from external
// traffic.
func HeaderPrincipal(header string) PrincipalFunc {
	return func(r *http.Request) (string, bool) {
		principal := strings.TrimSpace(r.Header.Get(header))
		return principal, principal != ""
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
