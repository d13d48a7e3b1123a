package codec

import (
	"fmt"
	"os"
	"strings"

	"github.com/caronc/go-newsreap/internal/content"
)

type uuState int

const (
	uuWaitBegin uuState = iota
	uuBody
)

// UuDecoder implements the legacy uuencode decoder: "begin <perm> <name>"
// .. "end" framing around standard uuencode-alphabet lines. A line that
// fails to decode is recorded (see SkippedLines) and skipped rather than
// aborting the transfer,
// using the Fredrik Lundh length-recovery heuristic to estimate how many
// bytes the corrupt line was meant to carry.
type UuDecoder struct {
	state   uuState
	workDir string

	cur      *content.Content
	skipped  []string
	filename string
}

func NewUuDecoder(workDir string) *UuDecoder {
	return &UuDecoder{workDir: workDir}
}

func (d *UuDecoder) Name() string { return "uuencode" }

func (d *UuDecoder) Detect(line string) bool {
	return d.state == uuWaitBegin && strings.HasPrefix(line, "begin ")
}

func (d *UuDecoder) Feed(line string) Step {
	switch d.state {
	case uuWaitBegin:
		fields := strings.Fields(line)
		if len(fields) >= 3 {
			d.filename = strings.Join(fields[2:], " ")
		}
		d.cur = content.New(d.workDir, d.filename)
		if err := d.cur.Open(os.O_RDWR | os.O_CREATE); err != nil {
			return Failed()
		}
		d.state = uuBody
		return Continue()

	case uuBody:
		if strings.TrimSpace(line) == "end" {
			d.cur.Close()
			result := d.cur
			d.reset()
			return DoneContent(result)
		}
		if strings.TrimSpace(line) == "`" || line == "" {
			return Continue() // zero-length-line marker, some encoders emit a backtick
		}
		if err := d.decodeLine(line); err != nil {
			// Corrupt line: record it with an estimate of its intended
			// length, and skip it.
			n := 0
			if len(line) > 0 {
				n = recoverLength(line[0])
			}
			d.skipped = append(d.skipped, fmt.Sprintf("%s (recovered ~%d bytes)", line, n))
			return Continue()
		}
		return Continue()
	}
	return Failed()
}

// decodeLine decodes one standard uuencode line: the first character
// encodes the byte count, each group of 4 characters decodes to 3 bytes.
func (d *UuDecoder) decodeLine(line string) error {
	if len(line) < 1 {
		return fmt.Errorf("uuencode: empty line")
	}

	n := (int(line[0]) - 32) & 63
	if n == 0 {
		return nil
	}

	body := line[1:]
	out := make([]byte, 0, n)

	for i := 0; i+4 <= len(body) && len(out) < n; i += 4 {
		c0 := uuUnchar(body[i])
		c1 := uuUnchar(body[i+1])
		c2 := uuUnchar(body[i+2])
		c3 := uuUnchar(body[i+3])

		out = append(out, byte((c0<<2)|(c1>>4)))
		if len(out) < n {
			out = append(out, byte((c1<<4)|(c2>>2)))
		}
		if len(out) < n {
			out = append(out, byte((c2<<6)|c3))
		}
	}

	if len(out) < n {
		return fmt.Errorf("uuencode: short line: got %d of %d bytes", len(out), n)
	}

	_, err := d.cur.Write(out[:n])
	return err
}

func uuUnchar(c byte) byte {
	return (c - 32) & 63
}

// recoverLength applies the Fredrik Lundh heuristic to estimate the
// intended decoded byte count of a corrupt uuencode line from its first
// character, for diagnostics only.
func recoverLength(firstChar byte) int {
	return (((int(firstChar)-32)&63)*4 + 5) / 3
}

func (d *UuDecoder) reset() {
	d.state = uuWaitBegin
	d.cur = nil
	d.skipped = nil
	d.filename = ""
}

func (d *UuDecoder) Reset() { d.reset() }

// SkippedLines returns the corrupt body lines encountered during the most
// recently completed decode, for logging by the caller.
func (d *UuDecoder) SkippedLines() []string { return d.skipped }

const uuLineWidth = 45 // standard uuencode group-of-3 line width

// EncodeUuencode renders data as a uuencode body (without the begin/end
// framing lines), used by the round-trip test.
func EncodeUuencode(data []byte) []string {
	lines := make([]string, 0, len(data)/uuLineWidth+1)

	for offset := 0; offset < len(data); offset += uuLineWidth {
		end := offset + uuLineWidth
		if end > len(data) {
			end = len(data)
		}
		lines = append(lines, encodeUuLine(data[offset:end]))
	}

	return lines
}

func encodeUuLine(chunk []byte) string {
	var b strings.Builder
	b.WriteByte(uuChar(byte(len(chunk))))

	for i := 0; i < len(chunk); i += 3 {
		var c0, c1, c2 byte
		c0 = chunk[i]
		if i+1 < len(chunk) {
			c1 = chunk[i+1]
		}
		if i+2 < len(chunk) {
			c2 = chunk[i+2]
		}

		b.WriteByte(uuChar(c0 >> 2))
		b.WriteByte(uuChar(((c0 << 4) | (c1 >> 4)) & 0x3F))
		b.WriteByte(uuChar(((c1 << 2) | (c2 >> 6)) & 0x3F))
		b.WriteByte(uuChar(c2 & 0x3F))
	}

	return b.String()
}

func uuChar(v byte) byte {
	if v == 0 {
		return '`'
	}
	return (v & 63) + 32
}
