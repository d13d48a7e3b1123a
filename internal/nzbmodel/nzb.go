package nzbmodel

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// NZB is the parsed XML manifest: one NZBFile per uploaded source file,
// each with its own group list and per-segment Message-ID/size stubs.
type NZB struct {
	XMLName xml.Name  `xml:"nzb"`
	Files   []NZBFile `xml:"file"`
}

type NZBFile struct {
	Subject  string       `xml:"subject,attr"`
	Poster   string       `xml:"poster,attr"`
	Date     int64        `xml:"date,attr"`
	Groups   []string     `xml:"groups>group"`
	Segments []NZBSegment `xml:"segments>segment"`
}

type NZBSegment struct {
	Number    int    `xml:"number,attr"`
	Bytes     int64  `xml:"bytes,attr"`
	MessageID string `xml:",chardata"`
}

func (f *NZBFile) TotalSize() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Bytes
	}
	return total
}

// Parse reads an NZB manifest into one SegmentedPost per file, each
// carrying Article stubs with a Message-ID and expected size but no
// decoded Content (populated later by a Get against the Manager).
func Parse(r io.Reader) ([]*SegmentedPost, error) {
	var doc NZB
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("nzbmodel: parse: %w", err)
	}

	posts := make([]*SegmentedPost, 0, len(doc.Files))
	for _, f := range doc.Files {
		post := NewSegmentedPost(f.Subject, f.Groups)
		for _, seg := range f.Segments {
			a := NewArticle(f.Groups)
			a.messageID = seg.MessageID
			a.SetSequence(seg.Number)
			a.SetSubject(f.Subject)
			a.SetPoster(f.Poster)
			post.articles = append(post.articles, a)
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// Save renders the SegmentedPosts as an NZB manifest and writes it to path.
func Save(path string, posts []*SegmentedPost) error {
	doc := NZB{XMLName: xml.Name{Local: "nzb"}}

	for _, post := range posts {
		if len(post.articles) == 0 {
			continue
		}
		first := post.articles[0]

		file := NZBFile{
			Subject: first.Subject(),
			Poster:  first.Poster(),
			Groups:  post.groups,
		}
		for _, a := range post.articles {
			size := int64(0)
			if len(a.contents) == 1 {
				size, _ = a.contents[0].Size()
			}
			file.Segments = append(file.Segments, NZBSegment{
				Number:    a.Sequence(),
				Bytes:     size,
				MessageID: a.MsgID(false),
			})
		}
		doc.Files = append(doc.Files, file)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nzbmodel: save: %w", err)
	}
	defer f.Close()

	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("nzbmodel: save: encode: %w", err)
	}
	return nil
}
