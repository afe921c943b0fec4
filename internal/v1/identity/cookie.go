// Package identity mints and reads the opaque cookie that stands in for
// authentication on the watch-room endpoints. Any cookie value is
// accepted as a participant identity; nothing here validates who the
// bearer claims to be.
package identity

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CookieMaxAge is how long the issued identity cookie lives before the
// browser expires it.
const CookieMaxAge = 180 * 24 * time.Hour

// Ensure reads cookieName off the request, minting and setting a fresh
// UUIDv4 value if it is absent, and returns the resulting cookie value.
// The cookie is HttpOnly and SameSite=Lax: it is never read by page
// script and is sent on same-site navigations but not cross-site POSTs.
func Ensure(c *gin.Context, cookieName string) string {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v
	}

	value := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, value, int(CookieMaxAge.Seconds()), "/", "", false, true)
	return value
}
