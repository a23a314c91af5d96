package queue

import "fmt"

// PublishError reports a failed write to a channel. The caller decides
// whether to retry with backoff or escalate.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
