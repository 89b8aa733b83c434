package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies a Message. The order of the constants is the priority
// order used when several severities have to be reduced to one.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityAlarm
)

var severityNames = map[Severity]string{
	SeverityNone:    "none",
	SeverityInfo:    "info",
	SeverityWarning: "warning",
	SeverityError:   "error",
	SeverityAlarm:   "alarm",
}

var severityIcons = map[Severity]string{
	SeverityNone:    "",
	SeverityInfo:    "ℹ️",
	SeverityWarning: "⚠️",
	SeverityError:   "🔥",
	SeverityAlarm:   "🚨",
}

// ParseSeverity returns the Severity named by value
func ParseSeverity(value string) (Severity, error) {
	for severity, name := range severityNames {
		if strings.EqualFold(name, strings.TrimSpace(value)) {
			return severity, nil
		}
	}
	return SeverityNone, fmt.Errorf("value [%s] is not a valid message type", value)
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Icon returns the emoji used to prefix messages of this severity
func (s Severity) Icon() string {
	return severityIcons[s]
}

// MarshalText implements encoding.TextMarshaler, used by both the YAML queue
// file and the JSON listener payloads.
func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity reduces a list of severities to the highest one. An empty list
// reduces to SeverityInfo, which is what a report without issues carries.
func MaxSeverity(severities ...Severity) Severity {
	if len(severities) == 0 {
		return SeverityInfo
	}
	highest := SeverityNone
	for _, severity := range severities {
		if severity > highest {
			highest = severity
		}
	}
	return highest
}

// Message is the generic notification passed around the whole application.
// It is only turned into a platform specific StatusPost at publishing time.
type Message struct {
	Summary  string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Text     string   `json:"text,omitempty" yaml:"text,omitempty"`
	Severity Severity `json:"message_type" yaml:"message_type"`
}

// NewMessage builds a Message
func NewMessage(summary, text string, severity Severity) *Message {
	return &Message{Summary: summary, Text: text, Severity: severity}
}

// MessageMedia represents a media attachment referenced by URL
type MessageMedia struct {
	URL     string `json:"url" yaml:"url"`
	AltText string `json:"alt_text,omitempty" yaml:"alt_text,omitempty"`
}

// QueueItem is a message waiting in the durable queue
type QueueItem struct {
	Message     Message
	Media       []MessageMedia
	PublishedAt time.Time
}

// NewQueueItem wraps a copy of the message, stamped with the current time
func NewQueueItem(message *Message, media ...MessageMedia) *QueueItem {
	return &QueueItem{
		Message:     *message,
		Media:       media,
		PublishedAt: time.Now(),
	}
}

// UniqueValue is the deduplication key: two items carrying the same summary
// and text are the same item, no matter when they were queued.
func (q *QueueItem) UniqueValue() string {
	var b strings.Builder
	if q.Message.Summary != "" {
		b.WriteString("s")
		b.WriteString(q.Message.Summary)
	}
	if q.Message.Text != "" {
		b.WriteString("m")
		b.WriteString(q.Message.Text)
	}
	return b.String()
}
