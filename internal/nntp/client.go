// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

// Package nntp implements the wire client for the news server: a single
// persistent session that fetches header overviews for an article range and
// article bodies by message id, reconnecting transparently on transient
// failure.
//
// Overview fields arrive as loosely formatted tab-separated text; they are
// converted to a typed ArticleHeader at this boundary with defensive
// per-field extraction. Absent or corrupt numeric fields become zero values
// rather than errors, since real servers routinely emit them.
package nntp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jskoetsier/nzbindexer/internal/logging"
	"github.com/jskoetsier/nzbindexer/internal/metrics"
)

// Sentinel errors. Protocol-level misses (group or article not found) are
// distinct from connection failures: only the latter trigger reconnects.
var (
	ErrNoSuchGroup  = errors.New("nntp: no such group")
	ErrNoArticles   = errors.New("nntp: no articles in range")
	ErrNoSuchBody   = errors.New("nntp: no article with that message-id")
	ErrAuthRejected = errors.New("nntp: authentication rejected")
)

// ArticleHeader is one row from a header-overview fetch. Immutable once
// fetched; consumed into a binary aggregate, never persisted directly.
type ArticleHeader struct {
	Number    int64
	Subject   string
	From      string
	Date      time.Time
	MessageID string
	Bytes     int64
	Lines     int64
}

// GroupStatus is the server's response to a group selection.
type GroupStatus struct {
	Name  string
	Count int64
	Low   int64
	High  int64
}

// Config holds connection parameters for the news server.
type Config struct {
	Host          string
	Port          int
	TLS           bool
	Username      string
	Password      string
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// Client is a single-session NNTP client. All methods are safe for
// concurrent use; commands are serialized on the one connection.
type Client struct {
	cfg Config

	mu            sync.Mutex
	conn          *textproto.Conn
	raw           net.Conn
	currentGroup  string
	everConnected bool
}

// NewClient creates a client without connecting. The first operation dials.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Close terminates the session. Safe to call on a never-connected client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	c.currentGroup = ""
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.raw = nil
	return err
}

// connectLocked dials, reads the greeting and authenticates if credentials
// are configured. Must be called with mu held.
func (c *Client) connectLocked(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	d := net.Dialer{Timeout: c.cfg.DialTimeout}

	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("nntp: dial %s: %w", addr, err)
	}
	if c.cfg.TLS {
		tlsConn := tls.Client(raw, &tls.Config{ServerName: c.cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return fmt.Errorf("nntp: tls handshake %s: %w", addr, err)
		}
		raw = tlsConn
	}

	conn := textproto.NewConn(raw)
	raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	// 200 = posting allowed, 201 = read-only; both are fine.
	if _, _, err := conn.ReadCodeLine(20); err != nil {
		conn.Close()
		return fmt.Errorf("nntp: greeting: %w", err)
	}

	c.conn = conn
	c.raw = raw
	c.currentGroup = ""

	if c.cfg.Username != "" {
		if err := c.authenticateLocked(); err != nil {
			c.closeLocked()
			return err
		}
	}
	return nil
}

// authenticateLocked performs AUTHINFO USER/PASS (RFC 4643).
func (c *Client) authenticateLocked() error {
	// expect 0 disables textproto's code check; codes are branched here.
	code, _, err := c.cmdLocked(0, "AUTHINFO USER %s", c.cfg.Username)
	if err != nil {
		return fmt.Errorf("nntp: authinfo user: %w", err)
	}
	if code == 281 {
		return nil
	}
	if code != 381 {
		return fmt.Errorf("%w (code %d)", ErrAuthRejected, code)
	}
	code, _, err = c.cmdLocked(0, "AUTHINFO PASS %s", c.cfg.Password)
	if err != nil {
		return fmt.Errorf("nntp: authinfo pass: %w", err)
	}
	if code != 281 {
		return fmt.Errorf("%w (code %d)", ErrAuthRejected, code)
	}
	return nil
}

// cmdLocked sends one command and reads its status line. expectDigit is the
// leading digit family to accept (textproto convention: 2 accepts 2xx).
func (c *Client) cmdLocked(expectDigit int, format string, args ...interface{}) (int, string, error) {
	id, err := c.conn.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)
	c.raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	return c.conn.ReadCodeLine(expectDigit)
}

// withRetry runs op on a live session, reconnecting with exponential backoff
// on connection failures. Protocol-level errors pass through untouched.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.conn == nil {
			if err := c.connectLocked(ctx); err != nil {
				lastErr = err
				if !sleepCtx(ctx, backoffDelay(c.cfg.RetryDelay, attempt)) {
					return ctx.Err()
				}
				continue
			}
			// Only a re-established session counts; the first connect of
			// the process is not a reconnect.
			if c.everConnected {
				metrics.NNTPReconnects.Inc()
			}
			c.everConnected = true
		}

		err := op()
		if err == nil {
			return nil
		}
		if !isConnError(err) {
			return err
		}
		lastErr = err
		logging.Warn().Err(err).Int("attempt", attempt).Msg("nntp connection lost, reconnecting")
		c.closeLocked()
		if !sleepCtx(ctx, backoffDelay(c.cfg.RetryDelay, attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("nntp: giving up after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

// backoffDelay returns base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// sleepCtx sleeps for d or until ctx is done; reports whether it slept fully.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// isConnError reports whether err indicates a dead connection rather than a
// protocol-level response.
func isConnError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return false
	}
	if errors.Is(err, ErrNoSuchGroup) || errors.Is(err, ErrNoArticles) || errors.Is(err, ErrNoSuchBody) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "short response")
}

// selectGroupLocked issues GROUP if the session is not already positioned on
// the requested group.
func (c *Client) selectGroupLocked(group string) (GroupStatus, error) {
	if c.currentGroup == group {
		return GroupStatus{Name: group}, nil
	}
	code, msg, err := c.cmdLocked(2, "GROUP %s", group)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == 411 {
			return GroupStatus{}, fmt.Errorf("%w: %s", ErrNoSuchGroup, group)
		}
		return GroupStatus{}, err
	}
	if code != 211 {
		return GroupStatus{}, fmt.Errorf("nntp: unexpected GROUP response %d %s", code, msg)
	}
	st := GroupStatus{Name: group}
	fields := strings.Fields(msg)
	if len(fields) >= 3 {
		st.Count = parseInt64Field(fields[0])
		st.Low = parseInt64Field(fields[1])
		st.High = parseInt64Field(fields[2])
	}
	c.currentGroup = group
	return st, nil
}

// SelectGroup positions the session on a group and returns its watermarks.
func (c *Client) SelectGroup(ctx context.Context, group string) (GroupStatus, error) {
	var st GroupStatus
	err := c.withRetry(ctx, func() error {
		// Force a fresh GROUP so the returned watermarks are current.
		c.currentGroup = ""
		var err error
		st, err = c.selectGroupLocked(group)
		return err
	})
	return st, err
}

// FetchOverview fetches header overviews for [from, to] in the given group.
// Headers are returned in ascending article-number order. Callers must chunk
// large ranges themselves.
func (c *Client) FetchOverview(ctx context.Context, group string, from, to int64) ([]ArticleHeader, error) {
	var headers []ArticleHeader
	err := c.withRetry(ctx, func() error {
		if _, err := c.selectGroupLocked(group); err != nil {
			return err
		}
		code, _, err := c.cmdLocked(2, "XOVER %d-%d", from, to)
		if err != nil {
			var protoErr *textproto.Error
			if errors.As(err, &protoErr) && (protoErr.Code == 420 || protoErr.Code == 423) {
				return fmt.Errorf("%w: %d-%d", ErrNoArticles, from, to)
			}
			return err
		}
		if code != 224 {
			return fmt.Errorf("nntp: unexpected XOVER response %d", code)
		}
		c.raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		lines, err := c.conn.ReadDotLines()
		if err != nil {
			return err
		}
		headers = headers[:0]
		for _, line := range lines {
			h, ok := parseOverviewLine(line)
			if !ok {
				continue
			}
			headers = append(headers, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return headers, nil
}

// FetchBody fetches the raw body of one article by message id. The returned
// bytes are the transport-encoded payload (typically yEnc), dot-unstuffed.
func (c *Client) FetchBody(ctx context.Context, messageID string) ([]byte, error) {
	if !strings.HasPrefix(messageID, "<") {
		messageID = "<" + messageID + ">"
	}
	var body []byte
	err := c.withRetry(ctx, func() error {
		code, _, err := c.cmdLocked(2, "BODY %s", messageID)
		if err != nil {
			var protoErr *textproto.Error
			if errors.As(err, &protoErr) && protoErr.Code == 430 {
				return fmt.Errorf("%w: %s", ErrNoSuchBody, messageID)
			}
			return err
		}
		if code != 222 {
			return fmt.Errorf("nntp: unexpected BODY response %d", code)
		}
		c.raw.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		body, err = c.conn.ReadDotBytes()
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// parseOverviewLine converts one XOVER line into a typed header. Layout per
// RFC 2980: number, subject, from, date, message-id, references, bytes,
// lines, separated by tabs. Returns ok=false only when the line has no
// article number at all.
func parseOverviewLine(line string) (ArticleHeader, bool) {
	fields := strings.Split(line, "\t")
	num := parseInt64Field(fieldAt(fields, 0))
	if num <= 0 {
		return ArticleHeader{}, false
	}
	return ArticleHeader{
		Number:    num,
		Subject:   fieldAt(fields, 1),
		From:      fieldAt(fields, 2),
		Date:      parseDateField(fieldAt(fields, 3)),
		MessageID: strings.Trim(fieldAt(fields, 4), "<>"),
		Bytes:     parseInt64Field(fieldAt(fields, 6)),
		Lines:     parseInt64Field(fieldAt(fields, 7)),
	}, true
}

func fieldAt(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

// parseInt64Field returns 0 for absent or malformed numeric fields.
func parseInt64Field(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// usenetDateFormats covers the date layouts seen in the wild on overview
// lines. Tried in order; a zero time is returned when none match.
var usenetDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 GMT",
}

func parseDateField(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range usenetDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
