package eventbus

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Filter selects which events a subscription receives.
type Filter struct {
	// Kinds restricts the subscription to these event kinds.
	Kinds []int

	// Authors restricts to events signed by these hex pubkeys.
	Authors []string

	// Mentions restricts to events carrying a p tag for these hex pubkeys.
	Mentions []string

	// Since drops events created before this time.
	Since *time.Time
}

func (f Filter) toNostr() nostr.Filter {
	nf := nostr.Filter{
		Kinds:   f.Kinds,
		Authors: f.Authors,
	}
	if len(f.Mentions) > 0 {
		nf.Tags = nostr.TagMap{"p": f.Mentions}
	}
	if f.Since != nil {
		ts := nostr.Timestamp(f.Since.Unix())
		nf.Since = &ts
	}
	return nf
}

// Bus is the transport between the runtime and the relay network.
//
// Subscribe streams deduplicated, signature-checked events matching the
// filter until the context is cancelled. Publish delivers a signed event,
// retrying transient failures with exponential backoff. PublishEphemeral
// sends best-effort streaming chunks without retry.
type Bus interface {
	Subscribe(ctx context.Context, filter Filter) (<-chan *nostr.Event, error)
	Publish(ctx context.Context, event *nostr.Event) error
	PublishEphemeral(ctx context.Context, event *nostr.Event) error
	Close(ctx context.Context) error
}
