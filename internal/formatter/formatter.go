// Package formatter turns the generic Message into the StatusPost sent to
// one particular account.
package formatter

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/sirupsen/logrus"
)

// Formatter builds status posts with the posting parameters of one account
type Formatter struct {
	params  config.StatusParams
	mention *template.Template
}

type mentionData struct {
	Mention string
	Text    string
}

// New creates a Formatter. The mention template sees .Mention and .Text.
func New(params config.StatusParams) (*Formatter, error) {
	source := params.MentionTemplate
	if source == "" {
		source = config.DefaultMentionTemplate
	}

	tmpl, err := template.New("mention").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid mention template: %w", err)
	}

	return &Formatter{params: params, mention: tmpl}, nil
}

// BuildStatusPost projects msg into a StatusPost.
//
// With both summary and text, the summary goes to the spoiler with the
// severity icon and the text is the body. With only one of them, it becomes
// the body with the severity icon and there is no spoiler.
func (f *Formatter) BuildStatusPost(msg *models.Message) *models.StatusPost {
	post := &models.StatusPost{
		Visibility:  f.params.Visibility,
		ContentType: f.params.ContentType,
		Language:    f.params.Language,
	}

	if msg.Summary != "" && msg.Text != "" {
		post.SpoilerText = withIcon(msg.Summary, msg.Severity)
		post.Status = msg.Text
	} else {
		content := msg.Text
		if content == "" {
			content = msg.Summary
		}
		post.Status = withIcon(content, msg.Severity)
	}

	if f.params.MergeSpoiler && post.SpoilerText != "" {
		post.Status = post.SpoilerText + "\n\n" + post.Status
		post.SpoilerText = ""
	}

	post.Status = f.AddMentionIfDirectVisibility(post.Status)

	return post
}

// AddMentionIfDirectVisibility prepends the configured recipient when the
// account posts privately. Without a recipient such a post is visible to
// nobody: that is logged as an error and the text is returned untouched.
func (f *Formatter) AddMentionIfDirectVisibility(text string) string {
	private := f.params.Visibility == models.VisibilityDirect || f.params.Visibility == models.VisibilityPrivate
	if !private {
		logrus.Debug("Not a private posting, not adding a mention")
		return text
	}

	if f.params.MentionTo == "" {
		logrus.Errorf("Posting with %s visibility but no username_to_dm is configured, nobody will see this post", f.params.Visibility)
		return text
	}

	var buf bytes.Buffer
	if err := f.mention.Execute(&buf, mentionData{Mention: f.params.MentionTo, Text: text}); err != nil {
		logrus.Errorf("Failed to apply the mention template: %v", err)
		return text
	}

	logrus.Infof("Private posting, mentioning %s", f.params.MentionTo)
	return buf.String()
}

func withIcon(content string, severity models.Severity) string {
	icon := severity.Icon()
	if icon == "" {
		return content
	}
	return icon + " " + content
}
