package common

import (
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: 0, Message: "ok", Data: data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, Envelope{Code: code, Message: msg, Data: nil})
}

// FailWith adds a data payload, used for validation details.
func FailWith(c *gin.Context, httpStatus int, code int, msg string, data any) {
	c.JSON(httpStatus, Envelope{Code: code, Message: msg, Data: data})
}

// NewULID returns a lexically sortable 26 character id. Ids made in the same
// millisecond are monotonic within the process.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var entropy = &lockedEntropy{m: ulid.Monotonic(rand.Reader, 0)}

type lockedEntropy struct {
	mu sync.Mutex
	m  *ulid.MonotonicEntropy
}

func (e *lockedEntropy) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m.Read(p)
}

func (e *lockedEntropy) MonotonicRead(ms uint64, p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m.MonotonicRead(ms, p)
}
