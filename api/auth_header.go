package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("authorization is not a bearer JWT")
)

// credentials returns the Authorization header. Streams may pass the token
// as ?token= because EventSource cannot set headers.
func credentials(c echo.Context, allowQuery bool) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" || !allowQuery {
		return h
	}
	if token := c.QueryParam("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

// bearerToken returns the compact JWT of a "Bearer <token>" header. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadAuthorization
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 || strings.HasPrefix(token, ".") || strings.HasSuffix(token, ".") {
		return "", errBadAuthorization
	}
	return token, nil
}
