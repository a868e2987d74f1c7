package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagesignal/models"
)

// APIKeyContextKey is where Auth stores the caller's key for later middleware.
const APIKeyContextKey = "api_key"

// Auth returns API-key authentication middleware.
//
// Accepts either X-API-Key: <key> or Authorization: Bearer <key>.
// Keys are compared by digest in constant time. An empty key list leaves
// the API open.
func Auth(apiKeys []string) gin.HandlerFunc {
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	if len(digests) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abortUnauthorized(c, "missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}
		if !knownKey(digests, key) {
			abortUnauthorized(c, "invalid API key")
			return
		}
		c.Set(APIKeyContextKey, key)
		c.Next()
	}
}

func knownKey(digests [][sha256.Size]byte, key string) bool {
	d := sha256.Sum256([]byte(key))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(d[:], digests[i][:])
	}
	return found == 1
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeUnauthorized,
			Message: msg,
		},
	})
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
