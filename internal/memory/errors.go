package memory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMergeFailed is logged when a scope worker panics. The merger returns
// an empty result instead of surfacing it.
var ErrMergeFailed = errors.New("memory merge failed")

var errInvalidJSON = errors.New("invalid JSON response")

// maxErrorBody bounds the response excerpt carried by RequestError.
const maxErrorBody = 200

// RequestError is a failed backend call. Status is zero when no response
// was received.
type RequestError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("memory %s: HTTP %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// excerpt keeps the first maxErrorBody bytes of body, dropping a rune cut
// in half at the boundary.
func excerpt(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.ToValidUTF8(string(body), "")
}
