package nntpmgr

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/caronc/go-newsreap/internal/nntpconn"
	"github.com/caronc/go-newsreap/internal/socket"
)

func startFakeServer(t *testing.T) string {
	t.Helper()

	ln, err := socket.Listen("127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.Write([]byte("200 welcome\r\n"))
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimRight(line, "\r\n")
					switch {
					case strings.HasPrefix(line, "GROUP "):
						conn.Write([]byte("211 10 1 10 alt.test\r\n"))
					case line == "QUIT":
						conn.Write([]byte("205 bye\r\n"))
						return
					default:
						conn.Write([]byte("500 unknown\r\n"))
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).String()
}

func TestManagerGroupRequest(t *testing.T) {
	addr := startFakeServer(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	mgr := NewManager(nntpconn.ServerConfig{Host: host, Port: port, DialTimeout: 2 * time.Second}, 3)
	defer mgr.Close()

	count, low, high, group, err := mgr.Group("alt.test")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if count != 10 || low != 1 || high != 10 || group != "alt.test" {
		t.Errorf("unexpected group result: count=%d low=%d high=%d group=%q", count, low, high, group)
	}
}

func TestRequestCancelSkipsExecution(t *testing.T) {
	ran := false
	req := NewRequest(func(_ context.Context, _ *nntpconn.Connection) (interface{}, error) {
		ran = true
		return nil, nil
	})
	req.Cancel()

	// Simulate a worker observing cancellation before executing.
	if !req.isCancelled() {
		t.Fatalf("expected request to report cancelled")
	}
	req.complete(nil, nil)
	if ran {
		t.Errorf("task should not have run after cancellation")
	}
}

func TestManagerLazySpawnCapsAtThreads(t *testing.T) {
	addr := startFakeServer(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	mgr := NewManager(nntpconn.ServerConfig{Host: host, Port: port, DialTimeout: 2 * time.Second}, 2)
	defer mgr.Close()

	for i := 0; i < 5; i++ {
		if _, _, _, _, err := mgr.Group("alt.test"); err != nil {
			t.Fatalf("group %d: %v", i, err)
		}
	}

	if len(mgr.workers) > 2 {
		t.Errorf("worker pool grew to %d, want <= 2", len(mgr.workers))
	}
}
