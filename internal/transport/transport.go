// ABOUTME: Chat transport contract: inbound commands and outbound thread messages.
// ABOUTME: The daemon treats the chat platform as a message bus behind this interface.

package transport

import "context"

// Command is an inbound instruction received from the chat platform.
type Command struct {
	// Channel the command arrived in.
	Channel string
	// ThreadTS is the parent thread identifier, set when the message is a
	// reply inside an existing thread.
	ThreadTS string
	// User who issued the command.
	User string
	// Text is the raw command text.
	Text string
}

// InboundMessage is one raw channel message as the platform reports it,
// before any command filtering.
type InboundMessage struct {
	// TS is the message timestamp, the platform's unique message ID.
	TS string
	// ThreadTS is the parent thread timestamp when the message belongs
	// to a thread.
	ThreadTS string
	// User who posted the message. Empty for bot posts.
	User string
	// BotID is set when the message was posted by a bot, including this
	// daemon's own posts.
	BotID string
	// Text is the raw message text.
	Text string
}

// Transport is the chat-platform surface the daemon depends on. Network
// calls may block for non-trivial time; callers must not hold locks
// across them.
type Transport interface {
	// Ping performs a lightweight liveness check against the platform.
	Ping(ctx context.Context) error
	// Post sends a message to a channel and returns the platform's
	// message timestamp, which doubles as the thread identifier.
	Post(ctx context.Context, channel, text string) (string, error)
	// PostThread replies inside an existing thread.
	PostThread(ctx context.Context, channel, threadTS, text string) error
	// History returns the most recent channel messages, newest first.
	// Callers are responsible for deduplicating across polls.
	History(ctx context.Context, channel string, limit int) ([]InboundMessage, error)
}
