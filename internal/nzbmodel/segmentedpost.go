package nzbmodel

import (
	"fmt"
	"io"
	"strings"

	"github.com/caronc/go-newsreap/internal/codec"
	"github.com/caronc/go-newsreap/internal/content"
)

// SegmentedPost is one source file split into ordered Articles for upload,
// or reassembled from ordered Articles during download.
type SegmentedPost struct {
	filename string
	groups   []string
	articles []*Article
}

func NewSegmentedPost(filename string, groups []string) *SegmentedPost {
	return &SegmentedPost{filename: filename, groups: groups}
}

func (s *SegmentedPost) Articles() []*Article { return s.articles }

// Split divides src into N Articles of size bytes each, carrying
// begin/end/total_size on their single Content part.
func (s *SegmentedPost) Split(src *content.Content, size int64) error {
	parts, err := src.Split(size)
	if err != nil {
		return fmt.Errorf("nzbmodel: split: %w", err)
	}

	s.articles = make([]*Article, 0, len(parts))
	for i, part := range parts {
		a := NewArticle(s.groups)
		if err := a.Add(part); err != nil {
			return err
		}
		a.SetSequence(i + 1)
		a.SetSortNo(part.SortNo())
		s.articles = append(s.articles, a)
	}
	return nil
}

// Encode runs each Article's single Content part through a yEnc encoder,
// replacing it with a text Content holding the encoded article body.
func (s *SegmentedPost) Encode(workDir string) error {
	for _, a := range s.articles {
		if len(a.contents) != 1 {
			return fmt.Errorf("nzbmodel: encode: article has %d parts, want 1", len(a.contents))
		}
		src := a.contents[0]

		size, err := src.Size()
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		if err := src.Open(0); err != nil {
			return err
		}
		if _, err := src.Read(buf); err != nil && err != io.EOF {
			return err
		}

		lines := codec.EncodeYenc(s.filename, buf)

		encoded := content.New(workDir, s.filename+".txt")
		if _, err := encoded.Write([]byte(strings.Join(lines, "\r\n") + "\r\n")); err != nil {
			return err
		}
		encoded.SetSortNo(src.SortNo())
		encoded.SetPart(src.Part())
		encoded.SetTotalParts(src.TotalParts())

		a.contents = []*content.Content{encoded}
	}
	return nil
}

// ApplyTemplate fills Subject/From/Newsgroups for every article by
// expanding {filename}/{part}/{total} placeholders in subjectTemplate.
func (s *SegmentedPost) ApplyTemplate(poster, subjectTemplate string) {
	total := len(s.articles)
	for i, a := range s.articles {
		subject := subjectTemplate
		subject = strings.ReplaceAll(subject, "{filename}", s.filename)
		subject = strings.ReplaceAll(subject, "{part}", fmt.Sprintf("%03d", i+1))
		subject = strings.ReplaceAll(subject, "{total}", fmt.Sprintf("%03d", total))

		a.SetSubject(subject)
		a.SetPoster(poster)
	}
}
