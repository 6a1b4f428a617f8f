package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"x-clone/likes"

	"github.com/golang-jwt/jwt/v5"
)

const userIdHeader = "System-Design-User-Id"

var userIdPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// Claims carried by bearer tokens. The subject is the user id.
type Claims struct {
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalResolver turns a request into the principal it acts for.
type PrincipalResolver func(r *http.Request) (likes.Principal, error)

// HeaderPrincipal trusts the user id header. Meant for local development
// behind a gateway that already authenticated the caller.
func HeaderPrincipal(r *http.Request) (likes.Principal, error) {
	userId := r.Header.Get(userIdHeader)
	if !userIdPattern.MatchString(userId) {
		return likes.Principal{}, fmt.Errorf("the user_id is not valid - %w", likes.ErrNotAuthenticated)
	}
	return likes.Principal{UserId: userId, DisplayName: userId, Handle: "@" + userId}, nil
}

// BearerPrincipal validates an HS256 token signed with secret.
func BearerPrincipal(secret []byte) PrincipalResolver {
	return func(r *http.Request) (likes.Principal, error) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return likes.Principal{}, fmt.Errorf("invalid authorization header format - %w", likes.ErrNotAuthenticated)
		}

		var claims Claims
		_, err := jwt.ParseWithClaims(parts[1], &claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return likes.Principal{}, fmt.Errorf("%v - %w", err, likes.ErrNotAuthenticated)
		}
		if claims.Subject == "" {
			return likes.Principal{}, fmt.Errorf("token has no subject - %w", likes.ErrNotAuthenticated)
		}

		p := likes.Principal{UserId: claims.Subject, DisplayName: claims.Name, Handle: claims.Handle}
		if p.DisplayName == "" {
			p.DisplayName = p.UserId
		}
		if p.Handle == "" {
			p.Handle = "@" + p.UserId
		}
		return p, nil
	}
}

// SignToken issues a token BearerPrincipal accepts.
func SignToken(secret []byte, p likes.Principal) (string, error) {
	claims := Claims{
		Name:             p.DisplayName,
		Handle:           p.Handle,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.UserId},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func isAuthError(err error) bool {
	return errors.Is(err, likes.ErrNotAuthenticated)
}
