package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zentrochat/zentro/pkg/apperr"
)

const (
	DeletedText  = "This message was deleted"
	MediaPreview = "Media"
	MaxTextLen   = 4000
)

type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindFile   Kind = "file"
	KindGIF    Kind = "gif"
	KindSystem Kind = "system"
)

// Body is the kind-specific payload of a message. Exactly one concrete type
// exists per Kind.
type Body interface {
	Kind() Kind
	// Preview is the text a chat list shows for the message.
	Preview() string
	Validate() error
}

type TextBody struct {
	Text string `json:"text"`
}

type ImageBody struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type VideoBody struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Duration int    `json:"duration_seconds,omitempty"`
}

type FileBody struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type GIFBody struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SystemBody carries notices such as "X joined the group".
type SystemBody struct {
	Text string `json:"text"`
}

func (TextBody) Kind() Kind   { return KindText }
func (ImageBody) Kind() Kind  { return KindImage }
func (VideoBody) Kind() Kind  { return KindVideo }
func (FileBody) Kind() Kind   { return KindFile }
func (GIFBody) Kind() Kind    { return KindGIF }
func (SystemBody) Kind() Kind { return KindSystem }

func (b TextBody) Preview() string   { return b.Text }
func (b ImageBody) Preview() string  { return captionOr(b.Caption) }
func (b VideoBody) Preview() string  { return captionOr(b.Caption) }
func (b FileBody) Preview() string   { return MediaPreview }
func (b GIFBody) Preview() string    { return MediaPreview }
func (b SystemBody) Preview() string { return b.Text }

func captionOr(caption string) string {
	if strings.TrimSpace(caption) != "" {
		return caption
	}
	return MediaPreview
}

func (b TextBody) Validate() error   { return validateText(b.Text) }
func (b SystemBody) Validate() error { return validateText(b.Text) }
func (b ImageBody) Validate() error  { return validateURL(b.URL) }
func (b VideoBody) Validate() error  { return validateURL(b.URL) }
func (b GIFBody) Validate() error    { return validateURL(b.URL) }

func (b FileBody) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: file name is required", apperr.ErrValidation)
	}
	return validateURL(b.URL)
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is required", apperr.ErrValidation)
	}
	if len(text) > MaxTextLen {
		return fmt.Errorf("%w: message is too long", apperr.ErrValidation)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return fmt.Errorf("%w: media url is invalid", apperr.ErrValidation)
	}
	if u.Scheme != "http" && u.Scheme != "https" && !strings.HasPrefix(raw, "/") {
		return fmt.Errorf("%w: media url is invalid", apperr.ErrValidation)
	}
	return nil
}

// DecodeBody parses the JSON payload stored for a message of the given kind.
func DecodeBody(kind Kind, raw []byte) (Body, error) {
	var (
		body Body
		err  error
	)
	switch kind {
	case KindText:
		var b TextBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindImage:
		var b ImageBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindVideo:
		var b VideoBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindFile:
		var b FileBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindGIF:
		var b GIFBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindSystem:
		var b SystemBody
		err = json.Unmarshal(raw, &b)
		body = b
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", apperr.ErrValidation, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s body", apperr.ErrValidation, kind)
	}
	return body, nil
}

// Status is the delivery state of a message. It only moves forward:
// sent, delivered, read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// Advance returns the later of s and next.
func (s Status) Advance(next Status) Status {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyRef points at the quoted message and keeps a copy of what it looked
// like when the reply was written.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Kind      Kind   `json:"type"`
	Preview   string `json:"preview"`
}

type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Body      Body
	Reactions []Reaction
	ReplyTo   *ReplyRef
	Edited    bool
	EditedAt  *time.Time
	Deleted   bool
	Status    Status
	CreatedAt time.Time
}

func (m *Message) Kind() Kind {
	if m.Body == nil {
		return ""
	}
	return m.Body.Kind()
}

type messageJSON struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	SenderID  string          `json:"sender_id"`
	Type      Kind            `json:"type"`
	Body      json.RawMessage `json:"body"`
	Reactions []Reaction      `json:"reactions"`
	ReplyTo   *ReplyRef       `json:"reply_to,omitempty"`
	Edited    bool            `json:"edited"`
	EditedAt  *time.Time      `json:"edited_at,omitempty"`
	Deleted   bool            `json:"deleted"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Body == nil {
		return nil, fmt.Errorf("message %s has no body", m.ID)
	}
	body, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Type:      m.Body.Kind(),
		Body:      body,
		Reactions: reactions,
		ReplyTo:   m.ReplyTo,
		Edited:    m.Edited,
		EditedAt:  m.EditedAt,
		Deleted:   m.Deleted,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := DecodeBody(raw.Type, raw.Body)
	if err != nil {
		return err
	}
	*m = Message{
		ID:        raw.ID,
		RoomID:    raw.RoomID,
		SenderID:  raw.SenderID,
		Body:      body,
		Reactions: raw.Reactions,
		ReplyTo:   raw.ReplyTo,
		Edited:    raw.Edited,
		EditedAt:  raw.EditedAt,
		Deleted:   raw.Deleted,
		Status:    raw.Status,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

// BodyInput is the wire form of a body sent by clients: a type tag plus the
// variant's fields.
type BodyInput struct {
	Type Kind            `json:"type"`
	Body json.RawMessage `json:"body"`
}

func (in BodyInput) Decode() (Body, error) {
	if in.Type == "" {
		in.Type = KindText
	}
	if in.Type == KindSystem {
		return nil, fmt.Errorf("%w: system messages cannot be sent by users", apperr.ErrValidation)
	}
	if len(in.Body) == 0 {
		return nil, fmt.Errorf("%w: message body is required", apperr.ErrValidation)
	}
	body, err := DecodeBody(in.Type, in.Body)
	if err != nil {
		return nil, err
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	return body, nil
}
