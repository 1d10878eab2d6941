package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// handleUpdates translates raw MTProto update containers into domain events
// and feeds them to the session's bounded channel.
func (h *handle) handleUpdates(ctx context.Context, u tg.UpdatesClass) error {
	var updates []tg.UpdateClass
	var chats []tg.ChatClass
	switch box := u.(type) {
	case *tg.Updates:
		updates, chats = box.Updates, box.Chats
	case *tg.UpdatesCombined:
		updates, chats = box.Updates, box.Chats
	default:
		return nil
	}
	h.rememberChannels(chats)

	for _, upd := range updates {
		switch v := upd.(type) {
		case *tg.UpdateNewChannelMessage:
			h.emitMessage(domain.EventNew, v.Message)
		case *tg.UpdateEditChannelMessage:
			h.emitMessage(domain.EventEdit, v.Message)
		case *tg.UpdateDeleteChannelMessages:
			ref, ok := h.refForChannel(v.ChannelID)
			if !ok {
				continue
			}
			for _, id := range v.Messages {
				h.emit(domain.UpdateEvent{
					SessionID: h.sessionID,
					Kind:      domain.EventDelete,
					SourceRef: ref,
					MessageID: int64(id),
				})
			}
		}
	}
	return nil
}

func (h *handle) emitMessage(kind domain.EventKind, m tg.MessageClass) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return
	}
	ref, known := h.refForChannel(peer.ChannelID)
	if !known {
		return
	}
	h.emit(domain.UpdateEvent{
		SessionID: h.sessionID,
		Kind:      kind,
		SourceRef: ref,
		MessageID: int64(msg.ID),
		Snapshot:  snapshotOf(msg, ref),
	})
}

// snapshotOf captures what the filter pipeline and copy mode need from a
// message: text, media kind, the perceptual hash of photos, and the origin
// handle for media re-sends.
func snapshotOf(msg *tg.Message, sourceRef string) domain.MessageSnapshot {
	snap := domain.MessageSnapshot{Text: msg.Message}
	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		snap.Media = domain.MediaPhoto
		if photo, ok := media.Photo.(*tg.Photo); ok {
			snap.ImageHash = hashPhoto(photo)
		}
	case *tg.MessageMediaDocument:
		snap.Media = domain.MediaDocument
		if doc, ok := media.Document.(*tg.Document); ok && isVideo(doc) {
			snap.Media = domain.MediaVideo
		}
	case nil:
		snap.Media = domain.MediaNone
	default:
		snap.Media = domain.MediaDocument
	}
	if snap.Media.HasMedia() {
		snap.MediaRef = fmt.Sprintf("%s %d", sourceRef, msg.ID)
	}
	return snap
}

func isVideo(doc *tg.Document) bool {
	for _, attr := range doc.Attributes {
		if _, ok := attr.(*tg.DocumentAttributeVideo); ok {
			return true
		}
	}
	return false
}

// rememberChannels indexes access hashes from update entities so later events
// (deletes in particular carry no entity list) can still be attributed.
func (h *handle) rememberChannels(chats []tg.ChatClass) {
	if len(chats) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok {
			h.channelHashes[ch.ID] = ch.AccessHash
		}
	}
}

func (h *handle) refForChannel(id int64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hash, ok := h.channelHashes[id]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("channel:%d:%d", id, hash), true
}
