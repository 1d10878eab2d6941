package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// peerRef is the parsed form of a channel reference. Two shapes are accepted:
//
//	@username            resolved through the platform on demand
//	channel:<id>:<hash>  a channel id with its access hash, as listed by dialogs
type peerRef struct {
	username   string
	channelID  int64
	accessHash int64
}

func parseRef(ref string) (peerRef, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "@") && len(ref) > 1:
		return peerRef{username: ref[1:]}, nil
	case strings.HasPrefix(ref, "channel:"):
		parts := strings.Split(ref, ":")
		if len(parts) != 3 {
			return peerRef{}, fmt.Errorf("op=telegram.parseRef: malformed channel ref: %w", domain.ErrInvalidArgument)
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return peerRef{}, fmt.Errorf("op=telegram.parseRef: %w", domain.ErrInvalidArgument)
		}
		hash, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return peerRef{}, fmt.Errorf("op=telegram.parseRef: %w", domain.ErrInvalidArgument)
		}
		return peerRef{channelID: id, accessHash: hash}, nil
	default:
		return peerRef{}, fmt.Errorf("op=telegram.parseRef: unsupported ref %q: %w", ref, domain.ErrInvalidArgument)
	}
}

// inputPeer resolves a parsed ref into an InputPeer, hitting the platform only
// for username refs.
func (h *handle) inputPeer(ctx domain.Context, ref string) (tg.InputPeerClass, error) {
	pr, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	if pr.username == "" {
		return &tg.InputPeerChannel{ChannelID: pr.channelID, AccessHash: pr.accessHash}, nil
	}
	h.mu.Lock()
	if peer, ok := h.peerCache[pr.username]; ok {
		h.mu.Unlock()
		return peer, nil
	}
	h.mu.Unlock()

	res, err := h.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: pr.username})
	if err != nil {
		return nil, classify(err)
	}
	peer := peerFromResolved(res)
	if peer == nil {
		return nil, domain.NewPlatformError(domain.PlatformPeerInvalid, fmt.Errorf("username %s resolves to no usable peer", pr.username))
	}
	h.mu.Lock()
	h.peerCache[pr.username] = peer
	h.mu.Unlock()
	return peer, nil
}

func peerFromResolved(res *tg.ContactsResolvedPeer) tg.InputPeerClass {
	for _, c := range res.Chats {
		if ch, ok := c.(*tg.Channel); ok {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		}
		if ch, ok := c.(*tg.Chat); ok {
			return &tg.InputPeerChat{ChatID: ch.ID}
		}
	}
	for _, u := range res.Users {
		if usr, ok := u.(*tg.User); ok {
			return &tg.InputPeerUser{UserID: usr.ID, AccessHash: usr.AccessHash}
		}
	}
	return nil
}

// channelRef formats the stable ref for a channel seen in dialogs.
func channelRef(ch *tg.Channel) string {
	return fmt.Sprintf("channel:%d:%d", ch.ID, ch.AccessHash)
}
