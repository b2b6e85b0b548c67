package mailbox

import (
	"context"
	"time"
)

// RawMessage is one message as fetched from the mailbox: the forwarder it was
// searched under, a server-side id, and the full RFC822 bytes.
type RawMessage struct {
	UID       uint32
	Forwarder string
	Raw       []byte
}

// Client is the mailbox capability the collector consumes: list and fetch
// full messages from known forwarders within a lookback window. Credential
// setup (app passwords, OAuth) is an external concern.
type Client interface {
	Fetch(ctx context.Context, since time.Time) ([]RawMessage, error)
	Close() error
}
