package ai

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, req Request) (<-chan string, <-chan error)
}

// scanSSE calls fn with each "data:" payload until fn returns false or the
// body ends.
func scanSSE(body io.Reader, fn func(data string) (bool, error)) error {
	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		more, err := fn(data)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return sc.Err()
}

// send delivers a chunk unless ctx is done.
func send(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
