// Package eventbus connects the runtime to the pub/sub relay network. It
// exposes a Bus for subscribing to and publishing signed events, plus the
// event-kind taxonomy and tag helpers shared by the rest of the system.
package eventbus

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds used on the wire.
const (
	// KindTextReply is a generic text reply (agent chat response).
	KindTextReply = 1

	// KindLesson is an agent "lesson learned" record.
	KindLesson = 4124

	// KindAgentDefinition is a searchable agent definition.
	KindAgentDefinition = 4199

	// KindProject is the addressable project record.
	KindProject = 24000

	// KindAgentConfig is a long-form agent configuration.
	KindAgentConfig = 24001

	// KindTask is a delegated task record.
	KindTask = 24002

	// KindProjectStatus is the periodic project status heartbeat.
	KindProjectStatus = 24010

	// KindConversation is a conversation snapshot.
	KindConversation = 24011

	// KindTypingStart and KindTypingStop are ephemeral typing indicators.
	KindTypingStart = 24111
	KindTypingStop  = 24112

	// KindShellOutput carries ephemeral shell tool streaming chunks, with a
	// JSON content of {type,command?,data?,exitCode?,executionId,timestamp}.
	KindShellOutput = 24200

	// KindSpecDocument is a long-form article holding a specification
	// document, addressable by its d tag.
	KindSpecDocument = 30023
)

// TagValue returns the first value of the named tag, or "" when absent.
func TagValue(event *nostr.Event, key string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns every value of the named tag in order.
func TagValues(event *nostr.Event, key string) []string {
	var values []string
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == key {
			values = append(values, tag[1])
		}
	}
	return values
}

// ConversationID derives the thread id for an inbound event: the first
// present of the e tag, the root tag, or the event's own id.
func ConversationID(event *nostr.Event) string {
	if v := TagValue(event, "e"); v != "" {
		return v
	}
	if v := TagValue(event, "root"); v != "" {
		return v
	}
	return event.ID
}

// ProjectAddress renders the addressable coordinate of a project record.
func ProjectAddress(pubkey, dtag string) string {
	return fmt.Sprintf("%d:%s:%s", KindProject, pubkey, dtag)
}

// ReplyTags builds the tag set for a reply published into a thread: e
// references the event being answered and a the owning project address.
func ReplyTags(originalID, projectAddress string) nostr.Tags {
	tags := nostr.Tags{}
	if originalID != "" {
		tags = append(tags, nostr.Tag{"e", originalID})
	}
	if projectAddress != "" {
		tags = append(tags, nostr.Tag{"a", projectAddress})
	}
	return tags
}
