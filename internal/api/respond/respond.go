package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Success represents a standard structure for successful responses.
type Success struct {
	Result interface{} `json:"result"`
}

// Error represents a standard structure for error responses.
type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 OK JSON response, wrapping the given result in a Success struct.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Accepted sends a 202 Accepted JSON response.
func Accepted(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusAccepted, Success{Result: result})
}

// Fail sends an error JSON response with the specified HTTP status code.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}

// FailKind is Fail with a machine-readable failure kind.
func FailKind(c *ginext.Context, status int, kind string, err error) {
	JSON(c, status, Error{Message: err.Error(), Kind: kind})
}
