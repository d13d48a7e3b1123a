// Package codec implements C2: the incremental decoder chain that turns
// the lines of one multi-line NNTP response body into Header, yEnc,
// uuencode, XOVER, or group-list results.
package codec

import "github.com/caronc/go-newsreap/internal/content"

// StepKind is the tagged variant the Design Notes call for in place of the
// source's duck-typed decoder return (Content / true / false / none).
type StepKind int

const (
	// StepContinue: more input needed, the decoder remains active.
	StepContinue StepKind = iota
	// StepDone: a result was produced; emit it and deactivate.
	StepDone
	// StepSkip: finished, no result; deactivate without emitting.
	StepSkip
	// StepFailed: the decoder gave up; deactivate without emitting. The
	// Chain records the step in Results; no validity flag is set anywhere.
	StepFailed
)

// Step is the value a Decoder returns after consuming one line.
type Step struct {
	Kind    StepKind
	Content *content.Content // set only when Kind == StepDone and the result is a Content
	Header  map[string][]string
	Xover   *OverviewRecord
	Group   *GroupRecord
}

func Continue() Step { return Step{Kind: StepContinue} }
func Skip() Step     { return Step{Kind: StepSkip} }
func Failed() Step   { return Step{Kind: StepFailed} }

func DoneContent(c *content.Content) Step { return Step{Kind: StepDone, Content: c} }
func DoneHeader(h map[string][]string) Step { return Step{Kind: StepDone, Header: h} }
func DoneXover(r *OverviewRecord) Step    { return Step{Kind: StepDone, Xover: r} }
func DoneGroup(r *GroupRecord) Step       { return Step{Kind: StepDone, Group: r} }

// Decoder consumes one line at a time. Detect is consulted only while no
// decoder is active for the current response; once active a decoder is fed
// every subsequent line until it returns anything other than StepContinue.
// Decoders are resettable and may be consulted repeatedly across commands.
type Decoder interface {
	Detect(line string) bool
	Feed(line string) Step
	Reset()
	Name() string
}
