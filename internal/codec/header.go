package codec

import "strings"

// HeaderDecoder parses "Key: value" lines until the first blank line
// terminates the block. Whitespace-only lines at the top of the block are
// tolerated (skipped) rather than treated as the terminator. Once finished
// it will not re-engage within the same response (done latches true).
type HeaderDecoder struct {
	started bool
	done    bool
	header  map[string][]string
}

func NewHeaderDecoder() *HeaderDecoder {
	return &HeaderDecoder{header: make(map[string][]string)}
}

func (h *HeaderDecoder) Name() string { return "header" }

func (h *HeaderDecoder) Detect(line string) bool {
	if h.done {
		return false
	}
	if strings.TrimSpace(line) == "" {
		return false // leading blank lines are tolerated but don't start the block
	}
	return strings.Contains(line, ":")
}

func (h *HeaderDecoder) Feed(line string) Step {
	h.started = true

	if strings.TrimSpace(line) == "" {
		h.done = true
		result := h.header
		h.header = make(map[string][]string)
		return DoneHeader(result)
	}

	key, value, ok := splitHeaderLine(line)
	if !ok {
		// Malformed line mid-block (no colon): ignored; it is not
		// folded into the previous value.
		return Continue()
	}

	lk := strings.ToLower(key)
	h.header[lk] = append(h.header[lk], value)
	return Continue()
}

func splitHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func (h *HeaderDecoder) Reset() {
	h.started = false
	h.done = false
	h.header = make(map[string][]string)
}
