package codec

import (
	"bytes"
	"testing"
)

func TestUuencodeRoundTrip(t *testing.T) {
	dir := t.TempDir()

	data := []byte("The quick brown fox jumps over the lazy dog. 0123456789!")

	var lines []string
	lines = append(lines, "begin 644 fox.txt")
	lines = append(lines, EncodeUuencode(data)...)
	lines = append(lines, "end")

	dec := NewUuDecoder(dir)
	var result []byte
	for _, line := range lines {
		if dec.Detect(line) || dec.state != uuWaitBegin {
			step := dec.Feed(line)
			if step.Kind == StepDone {
				size, _ := step.Content.Size()
				out := make([]byte, size)
				step.Content.Open(0)
				n, _ := step.Content.Read(out)
				result = out[:n]
			}
		}
	}

	if !bytes.Equal(result, data) {
		t.Fatalf("round-trip mismatch: got %q, want %q", result, data)
	}
}
