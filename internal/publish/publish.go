package publish

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Publisher turns an announcement body into a signed note and hands it to
// the relay network.
type Publisher interface {
	Publish(ctx context.Context, body string) (*nostr.Event, error)
}

type ConnectError struct {
	Relay string
	Err   error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Relay, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

type SignError struct {
	Err error
}

func (e *SignError) Error() string { return fmt.Sprintf("sign note: %v", e.Err) }
func (e *SignError) Unwrap() error { return e.Err }

type PublishError struct {
	Relay string
	Err   error
}

func (e *PublishError) Error() string {
	if e.Relay == "" {
		return fmt.Sprintf("publish: %v", e.Err)
	}
	return fmt.Sprintf("publish to %s: %v", e.Relay, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
