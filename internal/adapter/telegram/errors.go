package telegram

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gotd/td/tgerr"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// banMarkers are platform signals that imply continued sends will harm the
// session. Matching any of them classifies the error as banned.
var banMarkers = []string{
	"PEER_FLOOD",
	"USER_DEACTIVATED",
	"USER_BLOCKED",
	"account restricted",
}

// authMarkers invalidate the session's credentials.
var authMarkers = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED_BAN",
}

// peerMarkers make a source or destination reference unusable.
var peerMarkers = []string{
	"PEER_ID_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
	"CHAT_ID_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"USER_BANNED_IN_CHANNEL",
}

// contentMarkers reject a specific message without implicating the session.
var contentMarkers = []string{
	"MESSAGE_EMPTY",
	"MESSAGE_TOO_LONG",
	"MEDIA_EMPTY",
	"MESSAGE_ID_INVALID",
	"CHAT_SEND_MEDIA_FORBIDDEN",
	"CHAT_WRITE_FORBIDDEN",
}

// classify translates a raw gotd error into the domain taxonomy. Callers wrap
// the result with their operation name; raw strings never cross the package
// boundary except inside the wrapped cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return domain.NewRateLimitError(wait, err)
	}
	msg := err.Error()
	for _, m := range banMarkers {
		if tgerr.Is(err, m) || strings.Contains(msg, m) {
			return domain.NewPlatformError(domain.PlatformBanned, err)
		}
	}
	for _, m := range authMarkers {
		if tgerr.Is(err, m) {
			return domain.NewPlatformError(domain.PlatformAuthExpired, err)
		}
	}
	for _, m := range peerMarkers {
		if tgerr.Is(err, m) {
			return domain.NewPlatformError(domain.PlatformPeerInvalid, err)
		}
	}
	for _, m := range contentMarkers {
		if tgerr.Is(err, m) {
			return domain.NewPlatformError(domain.PlatformContentRejected, err)
		}
	}
	if isTransient(err) {
		return domain.NewPlatformError(domain.PlatformTransient, err)
	}
	return domain.NewPlatformError(domain.PlatformUnknown, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, m := range []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "engine was closed"} {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
