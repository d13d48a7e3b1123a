package codec

import (
	"bytes"
	"testing"
)

// TestYencRoundTrip is testable property 1: yenc_decode(yenc_encode(C)) == C
// for arbitrary byte content, including bytes that force escaping.
func TestYencRoundTrip(t *testing.T) {
	dir := t.TempDir()

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}

	lines := EncodeYenc("payload.bin", data)

	dec := NewYencDecoder(dir, 0)
	var result []byte
	for _, line := range lines {
		if dec.Detect(line) || dec.state != yencWaitBegin {
			step := dec.Feed(line)
			if step.Kind == StepDone {
				out := make([]byte, step.Content.TotalSize())
				step.Content.Open(0)
				n, _ := step.Content.Read(out)
				result = out[:n]
			}
		}
	}

	if !bytes.Equal(result, data) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", len(result), len(data))
	}
}
