package codec

// Chain is the Connection's ordered list of active decoders for one
// command. Lines not claimed by any decoder are appended verbatim to body.
type Chain struct {
	decoders []Decoder
	active   Decoder
	body     []string
	results  []Step
}

func NewChain(decoders ...Decoder) *Chain {
	return &Chain{decoders: decoders}
}

// FeedLine runs one line through the chain. It returns true if the line was
// claimed by a decoder (active or newly detected), false if it fell through
// to the verbatim body.
func (c *Chain) FeedLine(line string) bool {
	if c.active != nil {
		step := c.active.Feed(line)
		return c.handle(step, true)
	}

	for _, d := range c.decoders {
		if d.Detect(line) {
			c.active = d
			step := d.Feed(line)
			return c.handle(step, true)
		}
	}

	c.body = append(c.body, line)
	return false
}

func (c *Chain) handle(step Step, claimed bool) bool {
	switch step.Kind {
	case StepContinue:
		// remain active
	case StepDone:
		c.results = append(c.results, step)
		c.active = nil
	case StepSkip:
		c.active = nil
	case StepFailed:
		c.results = append(c.results, step)
		c.active = nil
	}
	return claimed
}

// Results returns every StepDone/StepFailed result produced so far, in the
// order they were emitted.
func (c *Chain) Results() []Step { return c.results }

// Body returns the lines no decoder claimed, verbatim.
func (c *Chain) Body() []string { return c.body }

// Reset clears accumulated state and resets every decoder so the chain can
// be reused idempotently for a fresh response (testable property 3).
func (c *Chain) Reset() {
	c.active = nil
	c.body = nil
	c.results = nil
	for _, d := range c.decoders {
		d.Reset()
	}
}
