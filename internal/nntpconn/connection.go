// Package nntpconn implements C4: the protocol engine that drives one NNTP
// session over a socket.Socket, decoding responses through a codec.Chain and
// consulting ordered backup connections on a miss or server error.
package nntpconn

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/caronc/go-newsreap/internal/codec"
	"github.com/caronc/go-newsreap/internal/content"
	"github.com/caronc/go-newsreap/internal/socket"
)

// ServerConfig is the connection-level view of one configured provider:
// primary dial parameters plus its ordered backup chain.
type ServerConfig struct {
	ID       string
	Host     string
	Port     int
	Username string
	Password string

	TLS       bool
	Compress  bool
	JoinGroup string
	UseHead   bool
	UseBody   bool

	// RatePerSecond caps this connection's outbound command rate; zero
	// means unlimited.
	RatePerSecond float64

	DialTimeout time.Duration
	ReadTimeout time.Duration

	Backups []ServerConfig
}

// maxMisses bounds the XOVER probe width used by seek_by_date.
const maxMisses = 20

// Connection holds one NNTP session's protocol state (§4.4).
type Connection struct {
	cfg  ServerConfig
	sock *socket.Socket
	r    *bufio.Reader

	welcomed bool
	canPost  bool
	gzipMode bool

	group      string
	groupCount int64
	groupLow   int64
	groupHigh  int64
	groupIndex int64

	lastCode int
	lastMsg  string

	groupCache []*codec.GroupRecord

	limiter *rate.Limiter

	backups []*Connection
}

func New(cfg ServerConfig) *Connection {
	c := &Connection{cfg: cfg}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	for _, b := range cfg.Backups {
		c.backups = append(c.backups, New(b))
	}
	return c
}

// throttle blocks until the rate limiter admits one more command, a no-op
// when no RatePerSecond was configured.
func (c *Connection) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Connect performs the welcome read, AUTHINFO USER/PASS, an XFEATURE
// COMPRESS GZIP attempt (silently downgrading on rejection), and a GROUP
// for the configured JoinGroup when one is set. A group selected before a
// Close is not remembered and is not re-joined.
func (c *Connection) Connect(ctx context.Context) error {
	c.sock = socket.New(socket.Config{
		Host:   c.cfg.Host,
		Port:   c.cfg.Port,
		Secure: c.cfg.TLS,
	})

	dialTimeout := c.cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}

	if err := c.sock.Connect(ctx, dialTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	c.r = bufio.NewReader(c.sock.Conn())

	code, _, err := c.readStatus()
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("%w: welcome code %d", ErrBadResponse, code)
	}
	c.welcomed = true
	c.canPost = code == 200

	if c.cfg.Username != "" {
		if err := c.authenticate(); err != nil {
			return err
		}
	}

	if c.cfg.Compress {
		code, _, err := c.command("XFEATURE COMPRESS GZIP")
		if err == nil && code/100 == 2 {
			c.gzipMode = true
		}
	}

	if c.cfg.JoinGroup != "" {
		if _, _, _, _, err := c.Group(c.cfg.JoinGroup); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connection) authenticate() error {
	code, _, err := c.command("AUTHINFO USER " + c.cfg.Username)
	if err != nil {
		return err
	}
	if code == 381 {
		code, _, err = c.command("AUTHINFO PASS " + c.cfg.Password)
		if err != nil {
			return err
		}
	}
	if code/100 != 2 {
		return fmt.Errorf("%w: code %d", ErrAuthRejected, code)
	}
	return nil
}

// command writes a single command line and reads back the status line.
func (c *Connection) command(cmd string) (code int, msg string, err error) {
	if err := c.throttle(context.Background()); err != nil {
		return 0, "", err
	}
	if err := c.sock.Send([]byte(cmd + "\r\n")); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return c.readStatus()
}

func (c *Connection) readStatus() (code int, msg string, err error) {
	line, err := c.readLine()
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	code, msg, ok := parseStatusLine(line)
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	c.lastCode = code
	c.lastMsg = msg
	return code, msg, nil
}

func (c *Connection) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line string) (code int, msg string, ok bool) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 100 || n > 599 {
		return 0, "", false
	}
	if len(fields) == 2 {
		msg = fields[1]
	}
	return n, msg, true
}

// isMultiline reports whether code introduces a dot-terminated body.
func isMultiline(code int) bool {
	switch code {
	case 211, 215, 220, 221, 222, 223, 224, 230, 231:
		return true
	default:
		return false
	}
}

// readBody reads a dot-terminated multi-line body (undoing dot-stuffing)
// and returns its lines, transparently gunzipping when msg advertises
// COMPRESS=GZIP in gzip mode.
func (c *Connection) readBody(msg string) ([]string, error) {
	var lines []string

	if c.gzipMode && strings.Contains(strings.ToUpper(msg), "COMPRESS=GZIP") {
		raw, err := c.readRawDotBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchError, err)
		}
		gr, err := gzip.NewReader(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrFetchError, err)
		}
		defer gr.Close()
		scanner := bufio.NewScanner(gr)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		return lines, scanner.Err()
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if line == "." {
			return lines, nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:] // dot-stuffing
		}
		lines = append(lines, line)
	}
}

// readRawDotBody reads a dot-terminated body without line-splitting, for
// the gzip case where the decompressed stream is re-split afterward.
func (c *Connection) readRawDotBody() (string, error) {
	var b strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		if line == "." {
			return b.String(), nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// Group sends GROUP and updates the session's cursor state.
func (c *Connection) Group(name string) (count, low, high int64, group string, err error) {
	code, msg, err := c.command("GROUP " + name)
	if err != nil {
		return 0, 0, 0, name, err
	}
	if code != 211 {
		return 0, 0, 0, name, ErrArticleNotFound
	}

	fields := strings.Fields(msg)
	if len(fields) < 4 {
		return 0, 0, 0, name, fmt.Errorf("%w: GROUP reply %q", ErrBadResponse, msg)
	}
	count, _ = strconv.ParseInt(fields[0], 10, 64)
	low, _ = strconv.ParseInt(fields[1], 10, 64)
	high, _ = strconv.ParseInt(fields[2], 10, 64)

	c.group = name
	c.groupCount = count
	c.groupLow = low
	c.groupHigh = high
	c.groupIndex = low

	return count, low, high, name, nil
}

// Groups sends LIST ACTIVE and returns the filtered group list, caching the
// parsed result across calls when lazy is true.
func (c *Connection) Groups(filter string, regexp bool, lazy bool) ([]*codec.GroupRecord, error) {
	if lazy && c.groupCache != nil {
		return c.applyFilter(c.groupCache, filter, regexp)
	}

	code, _, err := c.command("LIST ACTIVE")
	if err != nil {
		return nil, err
	}
	if code/100 != 2 {
		return nil, fmt.Errorf("%w: LIST ACTIVE code %d", ErrBadResponse, code)
	}

	lines, err := c.readBody(c.lastMsg)
	if err != nil {
		return nil, err
	}

	dec := codec.NewGroupListDecoder()
	for _, line := range lines {
		if dec.Detect(line) {
			dec.Feed(line)
		}
	}

	if lazy {
		c.groupCache = dec.Groups()
	}

	return c.applyFilter(dec.Groups(), filter, regexp)
}

func (c *Connection) applyFilter(groups []*codec.GroupRecord, filter string, useRegexp bool) ([]*codec.GroupRecord, error) {
	if filter == "" {
		return groups, nil
	}
	if useRegexp {
		return codec.FilterRegexp(groups, filter)
	}
	return codec.FilterSubstring(groups, filter), nil
}

// xoverRetries is the configured retry limit for transient XOVER failures.
var xoverRetries = 5

// Xover sends XOVER start-end, making up to xoverRetries attempts in total
// on transient failures and resetting decoders between attempts.
func (c *Connection) Xover(group string, start, end int64, sort codec.SortPolicy) ([]*codec.OverviewRecord, error) {
	if c.group != group {
		if _, _, _, _, err := c.Group(group); err != nil {
			return nil, err
		}
	}

	var lastErr error
	dec := codec.NewXoverDecoder()

	for attempt := 0; attempt < xoverRetries; attempt++ {
		dec.Reset()

		code, _, err := c.command(fmt.Sprintf("XOVER %d-%d", start, end))
		if err != nil {
			lastErr = err
			continue
		}
		if code/100 != 2 {
			lastErr = fmt.Errorf("%w: XOVER code %d", ErrBadResponse, code)
			continue
		}

		lines, err := c.readBody(c.lastMsg)
		if err != nil {
			lastErr = err
			continue
		}

		for _, line := range lines {
			if dec.Detect(line) {
				dec.Feed(line)
			}
		}

		return dec.Sorted(sort), nil
	}

	return nil, lastErr
}

// SeekByDate binary-searches a group for the first article whose overview
// date is >= ref, probing MAX_MISSES=20 articles at a time.
func (c *Connection) SeekByDate(ctx context.Context, ref time.Time, group string) (int64, error) {
	if c.group != group {
		if _, _, _, _, err := c.Group(group); err != nil {
			return 0, err
		}
	}

	low, high := c.groupLow, c.groupHigh
	if low > high {
		return c.groupHigh, nil
	}

	for high-low > maxMisses {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		mid := low + (high-low)/2
		winStart := mid - maxMisses/2
		if winStart < low {
			winStart = low
		}
		winEnd := winStart + maxMisses
		if winEnd > high {
			winEnd = high
		}

		records, err := c.Xover(group, winStart, winEnd, codec.SortByArticleNo)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			// Empty probe: shift the window and retry.
			low = winEnd + 1
			continue
		}

		if records[0].Date.After(ref) || records[0].Date.Equal(ref) {
			high = winStart
		} else if records[len(records)-1].Date.Before(ref) {
			low = winEnd
		} else {
			return bisectLeft(records, ref), nil
		}
	}

	records, err := c.Xover(group, low, high, codec.SortByArticleNo)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return c.groupHigh, nil
	}
	return bisectLeft(records, ref), nil
}

func bisectLeft(records []*codec.OverviewRecord, ref time.Time) int64 {
	idx := sort.Search(len(records), func(i int) bool {
		return !records[i].Date.Before(ref)
	})
	if idx >= len(records) {
		return records[len(records)-1].ArticleNo
	}
	return records[idx].ArticleNo
}

// HeaderResult is what Stat returns on success: either a full decoded
// header block or, for a bare STAT success, the minimal {Message-ID: id}.
type HeaderResult struct {
	MessageID string
	Header    map[string][]string
}

// Stat sends STAT (full=false) or HEAD (full=true) for the given
// Message-ID. It returns ErrArticleNotFound on a miss after consulting
// backups in order, and propagates the first backup's success otherwise.
func (c *Connection) Stat(id string, full bool, group string) (*HeaderResult, error) {
	if group != "" && c.group != group {
		if _, _, _, _, err := c.Group(group); err != nil {
			return nil, err
		}
	}

	cmd := "STAT <" + id + ">"
	if full {
		cmd = "HEAD <" + id + ">"
	}

	code, msg, err := c.command(cmd)
	if err == nil {
		switch {
		case code == 430 || code == 423:
			return c.statBackups(id, full, group)
		case code/100 == 2 && !full:
			return &HeaderResult{MessageID: id}, nil
		case code/100 == 2 && full:
			lines, berr := c.readBody(msg)
			if berr != nil {
				return nil, berr
			}

			chain := codec.NewChain(codec.NewHeaderDecoder())
			for _, line := range lines {
				chain.FeedLine(line)
			}
			chain.FeedLine("") // flush: terminate the block if the body omitted the blank line

			header := make(map[string][]string)
			for _, step := range chain.Results() {
				if step.Kind == codec.StepDone && step.Header != nil {
					for k, v := range step.Header {
						header[k] = v
					}
				}
			}
			return &HeaderResult{MessageID: id, Header: header}, nil
		default:
			if res, berr := c.statBackups(id, full, group); berr == nil {
				return res, nil
			}
			return nil, fmt.Errorf("%w: code %d", ErrBadResponse, code)
		}
	}

	return c.statBackups(id, full, group)
}

func (c *Connection) statBackups(id string, full bool, group string) (*HeaderResult, error) {
	for _, b := range c.backups {
		res, err := b.Stat(id, full, group)
		if err == nil {
			return res, nil
		}
	}
	return nil, ErrArticleNotFound
}

// Get sends ARTICLE (or BODY, per config) for the given Message-ID and
// decodes the body through a [header?, yEnc, uuencode] chain. On a miss or
// server error, it consults backups in order.
func (c *Connection) Get(id, workDir, group string) ([]*content.Content, error) {
	if group != "" && c.group != group {
		if _, _, _, _, err := c.Group(group); err != nil {
			return nil, err
		}
	}

	cmd := "ARTICLE <" + id + ">"
	if c.cfg.UseBody {
		cmd = "BODY <" + id + ">"
	}

	code, msg, err := c.command(cmd)
	if err != nil {
		return c.getBackups(id, workDir, group)
	}

	switch {
	case code == 430 || code == 423:
		return c.getBackups(id, workDir, group)
	case code/100 != 2:
		c.Close()
		return c.getBackups(id, workDir, group)
	}

	lines, err := c.readBody(msg)
	if err != nil {
		c.Close()
		return c.getBackups(id, workDir, group)
	}

	var decoders []codec.Decoder
	if !c.cfg.UseBody {
		decoders = append(decoders, codec.NewHeaderDecoder())
	}
	decoders = append(decoders, codec.NewYencDecoder(workDir, 0), codec.NewUuDecoder(workDir))

	chain := codec.NewChain(decoders...)
	for _, line := range lines {
		chain.FeedLine(line)
	}

	var out []*content.Content
	for _, step := range chain.Results() {
		if step.Kind == codec.StepDone && step.Content != nil {
			out = append(out, step.Content)
		}
	}
	return out, nil
}

func (c *Connection) getBackups(id, workDir, group string) ([]*content.Content, error) {
	for _, b := range c.backups {
		res, err := b.Get(id, workDir, group)
		if err == nil {
			return res, nil
		}
	}
	return nil, ErrArticleNotFound
}

// Post sends POST and, on 340, streams body ending with a single "." line,
// returning an error wrapping ErrPostRejected unless the server's final
// response is 240.
func (c *Connection) Post(headerLines []string, bodyLines []string) error {
	code, _, err := c.command("POST")
	if err != nil {
		return err
	}
	if code != 340 {
		return fmt.Errorf("%w: code %d", ErrPostRejected, code)
	}

	var b strings.Builder
	for _, l := range headerLines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	for _, l := range bodyLines {
		if strings.HasPrefix(l, ".") {
			b.WriteByte('.') // dot-stuffing
		}
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString(".\r\n")

	if err := c.sock.Send([]byte(b.String())); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	code, _, err = c.readStatus()
	if err != nil {
		return err
	}
	if code != 240 {
		return fmt.Errorf("%w: code %d", ErrPostRejected, code)
	}
	return nil
}

// Close sends QUIT if connected and resets group/can_post state.
func (c *Connection) Close() error {
	if c.sock == nil {
		return nil
	}
	c.command("QUIT")
	err := c.sock.Close()
	c.sock = nil
	c.welcomed = false
	c.canPost = false
	c.group = ""
	return err
}

func (c *Connection) CanPost() bool    { return c.canPost }
func (c *Connection) Welcomed() bool   { return c.welcomed }
func (c *Connection) GroupName() string { return c.group }
func (c *Connection) ID() string       { return c.cfg.ID }
