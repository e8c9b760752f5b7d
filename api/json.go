package api

import (
	"net/http"

	gojson "github.com/goccy/go-json"
	"github.com/gin-gonic/gin"
)

// writeJSON encodes v with goccy/go-json rather than gin's default
// encoding/json-based c.JSON, matching mbp/common/ttime's fast-JSON
// preference for hot response paths.
func writeJSON(c *gin.Context, code int, v any) {
	b, err := gojson.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", b)
}

func errJSON(c *gin.Context, code int, msg string) {
	writeJSON(c, code, gin.H{"error": msg})
}
