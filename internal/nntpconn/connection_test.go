package nntpconn

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/caronc/go-newsreap/internal/socket"
)

// fakeServer drives a minimal scripted NNTP session over one accepted
// connection: welcome, then one line of response per command received.
func fakeServer(t *testing.T, script map[string][]string, welcome string) string {
	t.Helper()

	ln, err := socket.Listen("127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		conn.Write([]byte(welcome + "\r\n"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			resp, ok := script[line]
			if !ok {
				conn.Write([]byte("500 unknown command\r\n"))
				continue
			}
			for _, l := range resp {
				conn.Write([]byte(l + "\r\n"))
			}
			if line == "QUIT" {
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).String()
}

func TestConnectAndGroup(t *testing.T) {
	script := map[string][]string{
		"GROUP alt.test": {"211 10 1 10 alt.test"},
		"QUIT":           {"205 bye"},
	}
	addr := fakeServer(t, script, "200 welcome posting allowed")

	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	conn := New(ServerConfig{Host: host, Port: port, JoinGroup: "alt.test", DialTimeout: 2 * time.Second})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !conn.CanPost() {
		t.Errorf("expected CanPost true for 200 welcome")
	}
	if conn.GroupName() != "alt.test" {
		t.Errorf("GroupName = %q, want alt.test", conn.GroupName())
	}

	conn.Close()
}

func TestGetYencArticle(t *testing.T) {
	body := []string{
		"=ybegin line=128 size=5 name=hello.txt",
		encodeLineForTest([]byte("hello")),
		"=yend size=5 crc32=3610a686",
		".",
	}
	resp := append([]string{"220 0 <msg1> article"}, body...)

	script := map[string][]string{
		"ARTICLE <msg1>": resp,
		"QUIT":            {"205 bye"},
	}
	addr := fakeServer(t, script, "201 welcome no posting")

	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	conn := New(ServerConfig{Host: host, Port: port, DialTimeout: 2 * time.Second})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	dir := t.TempDir()
	contents, err := conn.Get("msg1", dir, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
}

func TestRateLimitThrottlesCommands(t *testing.T) {
	script := map[string][]string{
		"GROUP alt.test": {"211 10 1 10 alt.test"},
		"QUIT":           {"205 bye"},
	}
	addr := fakeServer(t, script, "200 welcome posting allowed")

	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	conn := New(ServerConfig{Host: host, Port: port, DialTimeout: 2 * time.Second, RatePerSecond: 5})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	const n = 3
	for i := 0; i < n; i++ {
		if _, _, _, _, err := conn.Group("alt.test"); err != nil {
			t.Fatalf("group: %v", err)
		}
	}
	elapsed := time.Since(start)

	// At 5/sec, n-1 inter-command gaps of ~200ms apply after the initial
	// burst token is spent; allow generous slack for CI scheduling jitter.
	minExpected := time.Duration(n-2) * 150 * time.Millisecond
	if elapsed < minExpected {
		t.Errorf("elapsed %v, expected at least %v under a 5/sec limiter", elapsed, minExpected)
	}
}

func encodeLineForTest(data []byte) string {
	var b strings.Builder
	for _, raw := range data {
		enc := raw + 0x2A
		switch enc {
		case '=', 0, '\r', '\n', '\t', '.':
			b.WriteByte('=')
			b.WriteByte(enc + 0x40)
		default:
			b.WriteByte(enc)
		}
	}
	return b.String()
}
