package nzbmodel

import (
	"bytes"
	"testing"

	"github.com/caronc/go-newsreap/internal/content"
)

func TestSplitEncodeApplyTemplate(t *testing.T) {
	dir := t.TempDir()

	data := bytes.Repeat([]byte("x"), 300)
	src := content.New(dir, "movie.mkv")
	src.Write(data)
	src.Close()

	post := NewSegmentedPost("movie.mkv", []string{"alt.binaries.test"})
	if err := post.Split(src, 100); err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(post.Articles()) != 3 {
		t.Fatalf("got %d articles, want 3", len(post.Articles()))
	}

	if err := post.Encode(dir); err != nil {
		t.Fatalf("encode: %v", err)
	}

	post.ApplyTemplate("poster@example.com", `"{filename}" {part}/{total}`)

	for i, a := range post.Articles() {
		wantSubject := `"movie.mkv" ` + padZero(i+1) + "/" + padZero(3)
		if a.Subject() != wantSubject {
			t.Errorf("article %d subject = %q, want %q", i, a.Subject(), wantSubject)
		}
		if len(a.HeaderLines()) == 0 {
			t.Errorf("article %d: expected non-empty header lines", i)
		}
	}
}

func padZero(n int) string {
	if n < 10 {
		return "00" + itoa(n)
	}
	if n < 100 {
		return "0" + itoa(n)
	}
	return itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestArticleRejectsDuplicateContentKey(t *testing.T) {
	dir := t.TempDir()
	c := content.New(dir, "part.bin")

	a := NewArticle([]string{"alt.test"})
	if err := a.Add(c); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := a.Add(c); err == nil {
		t.Fatalf("expected duplicate-key rejection")
	}
}
