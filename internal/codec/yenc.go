package codec

import (
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"

	"github.com/caronc/go-newsreap/internal/content"
)

// yEnc escape rule: "=x" decodes to x - 0x40 - 0x2A, anything else decodes
// to c - 0x2A (arithmetic mod 256); the encoder adds the same offsets.
const (
	yencEscapeXOR = 0x40
	yencPlainXOR  = 0x2A
	yencLineWidth = 128
)

type yencState int

const (
	yencWaitBegin yencState = iota
	yencWaitPart
	yencBody
)

// YencDecoder implements the yEnc decoder: =ybegin/[=ypart]/=yend framing,
// escape decoding, and CRC32 verification. On mismatch the produced
// Content's validity flag is cleared but it is still emitted (§7
// Decoder-integrity policy).
type YencDecoder struct {
	state yencState

	workDir string
	maxBytes int64 // 0 means unbounded

	cur       *content.Content
	hash      uint32
	crcInited bool
	written   int64
	escaped   bool
	exceeded  bool

	filename    string
	totalSize   int64
	partNum     int
	partBegin   int64
	partEnd     int64
	expectedCRC uint32
	haveCRC     bool
}

func NewYencDecoder(workDir string, maxBytes int64) *YencDecoder {
	return &YencDecoder{workDir: workDir, maxBytes: maxBytes}
}

func (d *YencDecoder) Name() string { return "yenc" }

func (d *YencDecoder) Detect(line string) bool {
	return d.state == yencWaitBegin && strings.HasPrefix(line, "=ybegin")
}

func (d *YencDecoder) Feed(line string) Step {
	switch d.state {
	case yencWaitBegin:
		d.parseYbegin(line)
		d.cur = content.New(d.workDir, d.filename)
		d.cur.SetTotalSize(d.totalSize)
		d.cur.SetSortNo(d.partNum)
		if err := d.cur.Open(os.O_RDWR | os.O_CREATE); err != nil {
			return Failed()
		}
		d.state = yencWaitPart
		return Continue()

	case yencWaitPart:
		if strings.HasPrefix(line, "=ypart") {
			d.parseYpart(line)
			d.state = yencBody
			return Continue()
		}
		// No =ypart line: this is already the first body line.
		d.state = yencBody
		return d.decodeLine(line)

	case yencBody:
		if strings.HasPrefix(line, "=yend") {
			return d.finish(line)
		}
		return d.decodeLine(line)
	}
	return Failed()
}

func (d *YencDecoder) decodeLine(line string) Step {
	if d.exceeded {
		return Continue() // max-bytes early-exit: swallow until =yend
	}

	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b == '=' && !d.escaped {
			d.escaped = true
			continue
		}
		var decoded byte
		if d.escaped {
			decoded = b - yencEscapeXOR - yencPlainXOR
			d.escaped = false
		} else {
			decoded = b - yencPlainXOR
		}
		out = append(out, decoded)
	}

	if len(out) > 0 {
		if _, err := d.cur.Write(out); err != nil {
			return Failed()
		}
		d.hash = crc32.Update(d.hash, crc32.IEEETable, out)
		d.written += int64(len(out))
	}

	if d.maxBytes > 0 && d.written >= d.maxBytes {
		d.exceeded = true
	}

	return Continue()
}

func (d *YencDecoder) finish(line string) Step {
	d.parseYend(line)

	d.cur.SetPart(d.partNum)
	if d.partEnd > d.partBegin {
		d.cur.SetBegin(d.partBegin)
		d.cur.SetEnd(d.partEnd)
	}

	if d.haveCRC && d.hash != d.expectedCRC {
		d.cur.SetValid(false)
	}
	d.cur.Close()

	result := d.cur
	d.reset()
	return DoneContent(result)
}

func (d *YencDecoder) parseYbegin(line string) {
	d.totalSize = 0
	d.partNum = 1
	for _, part := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(part, "size="):
			if v, err := strconv.ParseInt(strings.TrimPrefix(part, "size="), 10, 64); err == nil {
				d.totalSize = v
			}
		case strings.HasPrefix(part, "name="):
			d.filename = strings.TrimPrefix(part, "name=")
		case strings.HasPrefix(part, "part="):
			if v, err := strconv.Atoi(strings.TrimPrefix(part, "part=")); err == nil {
				d.partNum = v
			}
		}
	}
}

func (d *YencDecoder) parseYpart(line string) {
	for _, part := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(part, "begin="):
			if v, err := strconv.ParseInt(strings.TrimPrefix(part, "begin="), 10, 64); err == nil {
				d.partBegin = v - 1 // yEnc offsets are 1-based
			}
		case strings.HasPrefix(part, "end="):
			if v, err := strconv.ParseInt(strings.TrimPrefix(part, "end="), 10, 64); err == nil {
				d.partEnd = v
			}
		}
	}
}

func (d *YencDecoder) parseYend(line string) {
	for _, part := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(part, "pcrc32="):
			if v, err := strconv.ParseUint(strings.TrimPrefix(part, "pcrc32="), 16, 32); err == nil {
				d.expectedCRC = uint32(v)
				d.haveCRC = true
			}
		case strings.HasPrefix(part, "crc32=") && !d.haveCRC:
			if v, err := strconv.ParseUint(strings.TrimPrefix(part, "crc32="), 16, 32); err == nil {
				d.expectedCRC = uint32(v)
				d.haveCRC = true
			}
		}
	}
}

func (d *YencDecoder) reset() {
	d.state = yencWaitBegin
	d.cur = nil
	d.hash = 0
	d.written = 0
	d.escaped = false
	d.exceeded = false
	d.filename = ""
	d.totalSize = 0
	d.partNum = 0
	d.partBegin = 0
	d.partEnd = 0
	d.expectedCRC = 0
	d.haveCRC = false
}

func (d *YencDecoder) Reset() { d.reset() }

// EncodeYenc renders data as a single-part yEnc article body (one line per
// yencLineWidth input bytes), used by the PostFactory stage and by the
// round-trip test.
func EncodeYenc(filename string, data []byte) []string {
	lines := make([]string, 0, len(data)/yencLineWidth+3)
	lines = append(lines, fmt.Sprintf("=ybegin line=%d size=%d name=%s", yencLineWidth, len(data), filename))

	crc := crc32.ChecksumIEEE(data)

	for offset := 0; offset < len(data); offset += yencLineWidth {
		end := offset + yencLineWidth
		if end > len(data) {
			end = len(data)
		}
		lines = append(lines, encodeYencLine(data[offset:end]))
	}

	lines = append(lines, fmt.Sprintf("=yend size=%d crc32=%08x", len(data), crc))
	return lines
}

func encodeYencLine(chunk []byte) string {
	var b strings.Builder
	for _, raw := range chunk {
		enc := raw + yencPlainXOR
		switch enc {
		case '=', '\x00', '\r', '\n', '\t', '.':
			b.WriteByte('=')
			b.WriteByte(enc + yencEscapeXOR)
		default:
			b.WriteByte(enc)
		}
	}
	return b.String()
}
