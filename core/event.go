package core

import "time"

// AttachmentKind is the closed set of attachment variants the extractor
// understands. Dispatch is always on this tag, never on dynamic inspection.
type AttachmentKind string

const (
	AttachmentLink      AttachmentKind = "link"
	AttachmentPlainText AttachmentKind = "plain_text"
	AttachmentPDF       AttachmentKind = "pdf"
)

// Attachment is raw attached content carried by a message. Exactly one of
// URL or Data is meaningful depending on Kind: links carry a URL, files
// carry bytes.
type Attachment struct {
	ID       string
	Kind     AttachmentKind
	URL      string
	Filename string
	Filetype string
	Data     []byte
}

// Message is one entry in a conversation thread.
type Message struct {
	ID          string
	AuthorID    string
	Text        string
	Timestamp   time.Time
	Attachments []Attachment
}

// Event is one inbound turn trigger delivered by the event source. The
// channel topic, description, and privacy flag ride along with every event
// because the platform is the source of truth for them.
type Event struct {
	// MessageID is the platform id of the triggering message. Thread
	// entries carry the same id space, so the trigger can be matched
	// against a thread payload that already contains it.
	MessageID string

	ChannelID   string
	ThreadID    string
	AuthorID    string
	Text        string
	Timestamp   time.Time
	Attachments []Attachment

	ChannelPrivate bool
	Topic          string
	Description    string

	// Thread is the live thread history, oldest first, as delivered by the
	// platform. The triggering message is the last entry.
	Thread []Message
}

// Channel identifies one privacy partition. The privacy flag is fixed at
// creation time by the platform and re-read on every event.
type Channel struct {
	ID          string
	WorkspaceID string
	Private     bool
	Topic       string
	Description string
}

// Workspace holds installation-level state: the identifier and the default
// settings that channel annotations override.
type Workspace struct {
	ID       string
	Defaults Settings
}
