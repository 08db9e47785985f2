package telephony

import (
	"context"
)

// Playback operation contexts. The tag comes back on the PlayCompleted event
// and decides what happens next: greeting and answer playback reopen
// listening, error playback does not.
const (
	TagGreeting = "greeting-tts"
	TagAnswer   = "answer-tts"
	TagError    = "error-tts"
)

// Gateway is the telephony capability surface the call service consumes.
// Speak and Listen are fire-and-forget: completion arrives later as a webhook
// event, not as a return value.
type Gateway interface {
	// Answer accepts an inbound call and returns the call connection id
	Answer(ctx context.Context, incomingCallContext string) (string, error)

	// Speak plays synthesized speech into the call, tagged with an operation context
	Speak(ctx context.Context, callID, text, tag string) error

	// Listen starts speech recognition on the caller's audio
	Listen(ctx context.Context, callID, targetIdentity string) error

	// Hangup terminates the call for everyone
	Hangup(ctx context.Context, callID string) error
}
