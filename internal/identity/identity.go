// Package identity decodes the claims of a bearer token into an Identity for
// display and request attribution. It never verifies signatures or expiry:
// the remote API remains the authority on whether a token is acceptable.
package identity

import (
	"errors"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/model"
)

var errMissingSubject = errors.New("missing subject claim")

// userIDClaims are tried in order for the user id.
var userIDClaims = []string{"user_id", "userId", "id"}

// Decode parses token and returns its Identity. The subject claim is
// required and becomes the email; role and user id default to "".
func Decode(token string) (*model.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, apperr.InvalidToken(errors.New("empty token"))
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperr.InvalidToken(err)
	}

	email := stringClaim(claims, "sub")
	if email == "" {
		return nil, apperr.InvalidToken(errMissingSubject)
	}

	id := &model.Identity{
		Email: email,
		Role:  stringClaim(claims, "role"),
		Token: token,
	}
	for _, name := range userIDClaims {
		if v := stringClaim(claims, name); v != "" {
			id.UserID = v
			break
		}
	}
	return id, nil
}

// Resolve is Decode for passive callers: failures are logged and reported
// as nil.
func Resolve(token string) *model.Identity {
	id, err := Decode(token)
	if err != nil {
		logger.Named("identity").Warnw("token decode failed", "err", err)
		return nil
	}
	return id
}

// stringClaim reads a claim as a string. Numeric ids are rendered without
// a fractional part; anything else yields "".
func stringClaim(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}
