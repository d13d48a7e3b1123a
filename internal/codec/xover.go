package codec

import (
	"errors"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OverviewRecord is one XOVER line: article_no, subject, poster, date
// (parsed to UTC), message-id, size, lines, and the optional trailing
// Xref field mapped group -> article_no.
type OverviewRecord struct {
	ArticleNo int
	Subject   string
	Poster    string
	Date      time.Time
	MessageID string
	Size      int64
	Lines     int
	Xref      map[string]int
}

// SortPolicy selects the ordering XoverDecoder.Sorted applies.
type SortPolicy int

const (
	SortByArticleNo SortPolicy = iota
	SortByTime
	SortByPosterTime
)

// XoverDecoder parses XOVER response lines: tab-separated fields in the
// order article_no, subject, poster, date, message-id, bytes, lines,
// [Xref: ...]. Each line produces exactly one record; the decoder never
// enters a multi-line state of its own.
type XoverDecoder struct {
	records []*OverviewRecord
}

func NewXoverDecoder() *XoverDecoder {
	return &XoverDecoder{}
}

func (d *XoverDecoder) Name() string { return "xover" }

func (d *XoverDecoder) Detect(line string) bool {
	fields := strings.Split(line, "\t")
	if len(fields) < 7 {
		return false
	}
	_, err := strconv.Atoi(fields[0])
	return err == nil
}

func (d *XoverDecoder) Feed(line string) Step {
	rec, err := parseOverviewLine(line)
	if err != nil {
		return Failed()
	}
	d.records = append(d.records, rec)
	return DoneXover(rec)
}

func parseOverviewLine(line string) (*OverviewRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 7 {
		return nil, errors.New("xover: expected at least 7 tab-separated fields")
	}

	articleNo, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, err
	}

	size, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		size = 0
	}

	lines, err := strconv.Atoi(fields[6])
	if err != nil {
		lines = 0
	}

	rec := &OverviewRecord{
		ArticleNo: articleNo,
		Subject:   fields[1],
		Poster:    fields[2],
		Date:      parseOverviewDate(fields[3]),
		MessageID: fields[4],
		Size:      size,
		Lines:     lines,
		Xref:      make(map[string]int),
	}

	for _, extra := range fields[7:] {
		if strings.HasPrefix(extra, "Xref:") {
			parseXref(extra, rec.Xref)
		}
	}

	return rec, nil
}

// parseOverviewDate parses an RFC 5322/2822-style NNTP date field and
// normalizes it to UTC. An unparsable date yields the zero time rather
// than an error, since a malformed date should not sink the whole line.
func parseOverviewDate(raw string) time.Time {
	t, err := mail.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseXref(field string, into map[string]int) {
	rest := strings.TrimSpace(strings.TrimPrefix(field, "Xref:"))
	parts := strings.Fields(rest)
	for _, p := range parts {
		if !strings.Contains(p, ":") {
			continue // the leading server-name token
		}
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.Atoi(kv[1]); err == nil {
			into[kv[0]] = n
		}
	}
}

func (d *XoverDecoder) Reset() { d.records = nil }

// Records returns every OverviewRecord decoded since the last Reset.
func (d *XoverDecoder) Records() []*OverviewRecord { return d.records }

// Sorted returns a copy of Records ordered per policy.
func (d *XoverDecoder) Sorted(policy SortPolicy) []*OverviewRecord {
	out := make([]*OverviewRecord, len(d.records))
	copy(out, d.records)

	switch policy {
	case SortByTime:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	case SortByPosterTime:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Poster != out[j].Poster {
				return out[i].Poster < out[j].Poster
			}
			return out[i].Date.Before(out[j].Date)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ArticleNo < out[j].ArticleNo })
	}

	return out
}
