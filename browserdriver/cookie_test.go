package browserdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetCookie_FullAttributeSet(t *testing.T) {
	cookie, err := ParseSetCookie("datadome=XYZ; Domain=.example.com; Path=/articles; Max-Age=3600; Secure; HttpOnly; SameSite=Lax")
	require.NoError(t, err)

	assert.Equal(t, "datadome", cookie.Name)
	assert.Equal(t, "XYZ", cookie.Value)
	assert.Equal(t, ".example.com", cookie.Domain)
	assert.Equal(t, "/articles", cookie.Path)
	assert.EqualValues(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HTTPOnly)
	assert.Equal(t, "Lax", cookie.SameSite)
}

func TestParseSetCookie_DefaultsPathToSlash(t *testing.T) {
	cookie, err := ParseSetCookie("session=abc")
	require.NoError(t, err)
	assert.Equal(t, "/", cookie.Path)
}

func TestParseSetCookie_SameSiteNoneForcesSecure(t *testing.T) {
	cookie, err := ParseSetCookie("session=abc; SameSite=None")
	require.NoError(t, err)
	assert.True(t, cookie.Secure)
}

func TestParseSetCookie_EmptyStringErrors(t *testing.T) {
	_, err := ParseSetCookie("")
	assert.Error(t, err)
}

func TestParseSetCookie_MissingEqualsErrors(t *testing.T) {
	_, err := ParseSetCookie("justaname")
	assert.Error(t, err)
}

func TestParseSetCookie_IgnoresUnknownAttributes(t *testing.T) {
	cookie, err := ParseSetCookie("session=abc; Foo=Bar")
	require.NoError(t, err)
	assert.Equal(t, "abc", cookie.Value)
}
