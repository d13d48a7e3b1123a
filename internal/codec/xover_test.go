package codec

import "testing"

// TestXoverParsesOverviewLine is scenario S6.
func TestXoverParsesOverviewLine(t *testing.T) {
	line := "100\tA Package [001/001] \"file.rar\" yEnc (001/001)\tposter@example.com\t" +
		"Mon, 11 Aug 2014 08:33:07 +0000\t<abc123@example>\t1061463\t8160\t"

	d := NewXoverDecoder()
	if !d.Detect(line) {
		t.Fatalf("expected Detect to claim a well-formed overview line")
	}

	step := d.Feed(line)
	if step.Kind != StepDone || step.Xover == nil {
		t.Fatalf("expected StepDone with a record, got %+v", step)
	}

	rec := step.Xover
	if rec.ArticleNo != 100 {
		t.Errorf("ArticleNo = %d, want 100", rec.ArticleNo)
	}
	if rec.Size != 1061463 {
		t.Errorf("Size = %d, want 1061463", rec.Size)
	}
	if rec.Lines != 8160 {
		t.Errorf("Lines = %d, want 8160", rec.Lines)
	}
	wantSubject := `A Package [001/001] "file.rar" yEnc (001/001)`
	if rec.Subject != wantSubject {
		t.Errorf("Subject = %q, want %q", rec.Subject, wantSubject)
	}
	if got := rec.Date.Format("2006-01-02T15:04:05Z"); got != "2014-08-11T08:33:07Z" {
		t.Errorf("Date = %s, want 2014-08-11T08:33:07Z", got)
	}
}
