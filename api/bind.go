package api

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// bindOneOrMany decodes a JSON body holding either one object or an array of
// objects into target. It sends the error response itself and reports
// whether decoding succeeded.
func bindOneOrMany[T any](c *gin.Context, target *[]T) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		SendInvalidJSONError(c, err)
		return false
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, target); err != nil {
			SendInvalidJSONError(c, err)
			return false
		}
		return true
	}

	var single T
	if err := json.Unmarshal(body, &single); err != nil {
		SendInvalidJSONError(c, err)
		return false
	}
	*target = []T{single}
	return true
}
