package store

import (
	"database/sql"
	"time"
)

// StagedArticle is one durable row produced by the stage() pipeline phase:
// one yEnc-encoded chunk awaiting upload, verification, or already posted.
type StagedArticle struct {
	ID           int64
	SourcePath   string
	Filename     string
	SortNo       int
	SequenceNo   int
	TotalParts   int
	SHA1         string
	Size         int64
	BodyPath     string
	MessageID    string
	PostedDate   time.Time
	VerifiedDate time.Time
	Groups       []string
	Header       map[string]string
}

func (a *StagedArticle) Posted() bool   { return !a.PostedDate.IsZero() }
func (a *StagedArticle) Verified() bool { return !a.VerifiedDate.IsZero() }

// stagedArticleDBO maps to the staged_articles table.
type stagedArticleDBO struct {
	ID           int64
	SourcePath   string
	Filename     string
	SortNo       int
	SequenceNo   int
	TotalParts   int
	SHA1         string
	Size         int64
	BodyPath     string
	MessageID    string
	PostedDate   sql.NullTime
	VerifiedDate sql.NullTime
}

func (d *stagedArticleDBO) toDomain() *StagedArticle {
	a := &StagedArticle{
		ID:         d.ID,
		SourcePath: d.SourcePath,
		Filename:   d.Filename,
		SortNo:     d.SortNo,
		SequenceNo: d.SequenceNo,
		TotalParts: d.TotalParts,
		SHA1:       d.SHA1,
		Size:       d.Size,
		BodyPath:   d.BodyPath,
		MessageID:  d.MessageID,
	}
	if d.PostedDate.Valid {
		a.PostedDate = d.PostedDate.Time
	}
	if d.VerifiedDate.Valid {
		a.VerifiedDate = d.VerifiedDate.Time
	}
	return a
}

func fromDomain(a *StagedArticle) *stagedArticleDBO {
	d := &stagedArticleDBO{
		ID:         a.ID,
		SourcePath: a.SourcePath,
		Filename:   a.Filename,
		SortNo:     a.SortNo,
		SequenceNo: a.SequenceNo,
		TotalParts: a.TotalParts,
		SHA1:       a.SHA1,
		Size:       a.Size,
		BodyPath:   a.BodyPath,
		MessageID:  a.MessageID,
	}
	if !a.PostedDate.IsZero() {
		d.PostedDate = sql.NullTime{Time: a.PostedDate, Valid: true}
	}
	if !a.VerifiedDate.IsZero() {
		d.VerifiedDate = sql.NullTime{Time: a.VerifiedDate, Valid: true}
	}
	return d
}
