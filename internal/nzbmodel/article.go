// Package nzbmodel implements C6: the Article/SegmentedPost/NZB data model
// bridging the codec/content layers to the NNTP manager and the posting
// pipeline.
package nzbmodel

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/caronc/go-newsreap/internal/content"
)

// Article is one NNTP article: its headers, one or more decoded/encoded
// Contents, and the identity needed to fetch or post it.
type Article struct {
	messageID string
	groups    []string
	header    map[string][]string
	contents  []*content.Content

	subject string
	poster  string

	sortNo   int
	sequence int
}

// NewArticle constructs an Article with a freshly generated Message-ID.
func NewArticle(groups []string) *Article {
	return &Article{
		messageID: generateMessageID(),
		groups:    groups,
		header:    make(map[string][]string),
	}
}

func generateMessageID() string {
	return fmt.Sprintf("%s@newsreap", ksuid.New().String())
}

// MsgID returns the current Message-ID, regenerating it first when reset
// is true (used by upload() to recover from a collision).
func (a *Article) MsgID(reset bool) string {
	if reset || a.messageID == "" {
		a.messageID = generateMessageID()
	}
	return a.messageID
}

// Add appends a Content part, rejecting a duplicate (same Key()).
func (a *Article) Add(c *content.Content) error {
	for _, existing := range a.contents {
		if existing.Key() == c.Key() {
			return fmt.Errorf("nzbmodel: duplicate content key %q", c.Key())
		}
	}
	a.contents = append(a.contents, c)
	return nil
}

// Contents returns the Article's decoded/encoded parts in insertion order.
func (a *Article) Contents() []*content.Content { return a.contents }

// Load populates header/body state from a fetched header result and set of
// decoded Contents (as returned by nntpconn.Connection.Get/Stat).
func (a *Article) Load(header map[string][]string, contents []*content.Content) {
	a.header = header
	a.contents = contents
}

func (a *Article) Header() map[string][]string { return a.header }
func (a *Article) Groups() []string             { return a.groups }
func (a *Article) Subject() string              { return a.subject }
func (a *Article) Poster() string               { return a.poster }
func (a *Article) SortNo() int                  { return a.sortNo }
func (a *Article) Sequence() int                { return a.sequence }

func (a *Article) SetSubject(s string)  { a.subject = s }
func (a *Article) SetPoster(p string)   { a.poster = p }
func (a *Article) SetSortNo(n int)      { a.sortNo = n }
func (a *Article) SetSequence(n int)    { a.sequence = n }

// HeaderLines renders the Article's header block for POST, in a stable
// Subject/From/Newsgroups/Message-ID order followed by a Date line. Fields
// held in the Header() map are not rendered.
func (a *Article) HeaderLines() []string {
	var lines []string
	lines = append(lines, "Subject: "+a.subject)
	lines = append(lines, "From: "+a.poster)
	lines = append(lines, "Newsgroups: "+strings.Join(a.groups, ","))
	lines = append(lines, "Message-ID: <"+a.messageID+">")
	lines = append(lines, fmt.Sprintf("Date: %s", time.Now().UTC().Format(time.RFC1123Z)))
	return lines
}
