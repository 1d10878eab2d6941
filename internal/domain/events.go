package domain

// EventKind distinguishes the inbound update variants the engine reacts to.
type EventKind string

// Event kinds.
const (
	// EventNew is a freshly posted source message.
	EventNew EventKind = "new"
	// EventEdit is an edit of an earlier source message.
	EventEdit EventKind = "edit"
	// EventDelete is a deletion of an earlier source message.
	EventDelete EventKind = "delete"
)

// MediaKind classifies the payload of a message snapshot.
type MediaKind string

// Media kinds.
const (
	MediaNone     MediaKind = "none"
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// HasMedia reports whether the snapshot carries any media payload.
func (k MediaKind) HasMedia() bool { return k != "" && k != MediaNone }

// MessageSnapshot is an opaque-enough copy of a source message: everything the
// engine needs to filter and to repost in copy mode, nothing more.
type MessageSnapshot struct {
	Text  string    `json:"text,omitempty"`
	Media MediaKind `json:"media,omitempty"`
	// ImageHash is the perceptual hash of an image payload, hex-encoded.
	// Empty for non-image media.
	ImageHash string `json:"image_hash,omitempty"`
	// MediaRef is a platform-side handle for re-sending media in copy mode.
	MediaRef string `json:"media_ref,omitempty"`
}

// UpdateEvent is one inbound update observed on a session's source channel.
type UpdateEvent struct {
	SessionID string
	Kind      EventKind
	SourceRef string
	MessageID int64
	Snapshot  MessageSnapshot
	// Synthetic marks events republished by chain forwarding.
	Synthetic bool
}
