package browserdriver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/use-agent/adaptext/models"
)

// Cookie is a parsed Set-Cookie-style string.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	MaxAge   int64
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// ParseSetCookie splits a semicolon-delimited cookie string (e.g.
// "datadome=XYZ; Domain=.example.com; Path=/; Max-Age=3600; Secure;
// SameSite=Lax") into a Cookie. Missing Path defaults to "/"; a SameSite of
// "None" forces Secure=true.
func ParseSetCookie(raw string) (Cookie, error) {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return Cookie{}, models.NewError(models.ErrCaptcha, "empty cookie string from solver", nil)
	}

	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nameValue) != 2 {
		return Cookie{}, models.NewError(models.ErrCaptcha, fmt.Sprintf("malformed cookie name=value: %q", parts[0]), nil)
	}

	cookie := Cookie{
		Name:  strings.TrimSpace(nameValue[0]),
		Value: strings.TrimSpace(nameValue[1]),
		Path:  "/",
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}

		switch key {
		case "domain":
			cookie.Domain = val
		case "path":
			if val != "" {
				cookie.Path = val
			}
		case "max-age":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				cookie.MaxAge = n
			}
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HTTPOnly = true
		case "samesite":
			cookie.SameSite = val
			if strings.EqualFold(val, "none") {
				cookie.Secure = true
			}
		}
	}

	return cookie, nil
}
