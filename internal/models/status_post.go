package models

import "time"

// Visibility of a status post on a Mastodon-like instance
type Visibility string

const (
	VisibilityDirect   Visibility = "direct"   // only mentioned users
	VisibilityPrivate  Visibility = "private"  // only followers
	VisibilityUnlisted Visibility = "unlisted" // public, out of public timelines
	VisibilityPublic   Visibility = "public"
)

// ContentType of a status post. Only honoured by Pleroma-like instances,
// Mastodon ignores it.
type ContentType string

const (
	ContentTypePlain    ContentType = "text/plain"
	ContentTypeMarkdown ContentType = "text/markdown"
	ContentTypeHTML     ContentType = "text/html"
	ContentTypeBBCode   ContentType = "text/bbcode"
)

// StatusPost is the platform shaped projection of a Message
type StatusPost struct {
	Status         string      `json:"status"`
	InReplyToID    string      `json:"in_reply_to_id,omitempty"`
	MediaIDs       []string    `json:"media_ids,omitempty"`
	Sensitive      bool        `json:"sensitive"`
	Visibility     Visibility  `json:"visibility,omitempty"`
	SpoilerText    string      `json:"spoiler_text,omitempty"`
	Language       string      `json:"language,omitempty"`
	IdempotencyKey string      `json:"-"`
	ContentType    ContentType `json:"content_type,omitempty"`
	ScheduledAt    *time.Time  `json:"scheduled_at,omitempty"`
	Poll           *Poll       `json:"poll,omitempty"`
	QuoteID        string      `json:"quote_id,omitempty"`
}

// Poll attached to a status post
type Poll struct {
	Options   []string `json:"options"`
	ExpiresIn int      `json:"expires_in"` // seconds
	Multiple  bool     `json:"multiple,omitempty"`
}
