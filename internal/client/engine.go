// Package client implements the connection-level engine: the state
// machine that brings an IMAP connection up from a dialed socket to an
// authenticated, optionally mailbox-selected session, and the tag
// multiplexer that serializes commands over it (§4.6, §4.7).
//
// The shape is the teacher's proxy/session.go generalized from "one
// upstream, proxied verbatim" to "one upstream, driven by a typed
// command/response API" — the same greeting/pre-auth/post-auth staging,
// the same goroutine split between reading and writing, now wired through
// golang.org/x/sync/errgroup instead of a bare sync.Once cleanup closure.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"imapflow/internal/imap"
	"imapflow/internal/mailbox"
)

// ConnState mirrors the IMAP connection states of §3/§4.7.
type ConnState int

const (
	StateNotAuthenticated ConnState = iota
	StateAuthenticated
	StateSelected
	StateLogout
)

func (s ConnState) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not-authenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Options configures Dial (§6's option table, the subset that matters to
// bring-up and to the request engine; fetch- and idle-specific options
// live alongside the calls that use them).
type Options struct {
	Host string
	Port int

	TLS       bool
	STARTTLS  bool
	TLSConfig *tls.Config

	User     string
	Password string
	AuthBox  string // optional mailbox to SELECT right after LOGIN

	ReadOnly bool

	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	UpgradeTimeout  time.Duration

	Logger *slog.Logger
	LogRaw bool
	ID     string // correlation id; generated with uuid when empty

	// ClientInfo, when non-empty, is sent via the RFC 2971 ID command right
	// after CAPABILITY (§4.7 bring-up step 2), provided the server
	// advertises ID.
	ClientInfo map[string]string

	// DisableCompression skips the automatic COMPRESS=DEFLATE negotiation
	// bring-up otherwise performs when the server advertises it.
	DisableCompression bool

	// DisableAutoEnable skips the automatic ENABLE CONDSTORE UTF8=ACCEPT
	// (and QRESYNC, see below) bring-up otherwise performs.
	DisableAutoEnable bool

	// QResync requests QRESYNC in the automatic ENABLE, in addition to
	// CONDSTORE UTF8=ACCEPT, when the server advertises it.
	QResync bool

	// DisableAutoIdle turns off the 15 s post-command IDLE scheduler
	// entirely (§4.10).
	DisableAutoIdle bool

	// MaxIdleTime bounds how long a single auto-IDLE session is held open
	// before being cycled. Defaults to IdleRefreshInterval.
	MaxIdleTime time.Duration

	// MissingIdleCommand substitutes for IDLE when the server doesn't
	// advertise it, defaulting to "NOOP" (§4.10).
	MissingIdleCommand string

	// SocketTimeout bounds how long a read may block while auto-IDLE holds
	// the connection open, and how long the NOOP re-entry after such a
	// timeout is allowed to take.
	SocketTimeout time.Duration
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 30 * time.Second
	}
	if out.GreetingTimeout == 0 {
		out.GreetingTimeout = 30 * time.Second
	}
	if out.UpgradeTimeout == 0 {
		out.UpgradeTimeout = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.SocketTimeout == 0 {
		out.SocketTimeout = 5 * time.Minute
	}
	return &out
}

// untaggedHandler receives every untagged response the reader loop sees,
// in arrival order, before exec's waiter is woken for a tagged reply.
type untaggedHandler func(*imap.ResponseMessage)

// Engine is one live IMAP connection: transport, framer, tag multiplexer,
// and connection state. It is safe for one command to be in flight at a
// time by construction (the semaphore in exec); callers wanting
// concurrent mailbox work should layer internal/mailbox's Scheduler on
// top, as Select does.
type Engine struct {
	opts *Options
	raw  net.Conn
	conn wireConn

	reader *bufio.Reader
	framer *imap.Framer

	sem      *semaphore.Weighted
	tagSeq   uint64
	tagMu    sync.Mutex

	stateMu sync.Mutex
	state   ConnState

	capsMu sync.Mutex
	caps   map[string]bool

	pendingMu sync.Mutex
	pending   chan *imap.ResponseMessage // set while a tagged command is in flight

	continuation chan *imap.ResponseMessage

	handlersMu sync.Mutex
	handlerSeq uint64
	handlers   map[uint64]untaggedHandler

	group  *errgroup.Group
	cancel context.CancelFunc

	logger    *slog.Logger
	Scheduler *mailbox.Scheduler

	mailboxMu    sync.Mutex
	mailboxState *Mailbox

	existsCh       chan ExistsEvent
	expungeCh      chan ExpungeEvent
	flagsCh        chan FlagsEvent
	mailboxOpenCh  chan Mailbox
	mailboxCloseCh chan Mailbox

	nsMu     sync.Mutex
	nsPrefix string
	nsDelim  string

	idleMu      sync.Mutex
	idleActive  bool
	idleStopFn  func() error
	idleTimerMu sync.Mutex
	idleTimer   *time.Timer

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

// Dial performs the full bring-up sequence of §4.7: connect (with
// ConnectTimeout), read the greeting (with GreetingTimeout), CAPABILITY if
// the greeting didn't carry one, ID, STARTTLS if requested (with
// UpgradeTimeout) followed by a fresh CAPABILITY, LOGIN, NAMESPACE,
// COMPRESS, and ENABLE, each of the last four only when configured and
// advertised. The returned Engine is in StateAuthenticated (or
// StateSelected if AuthBox was set).
func Dial(ctx context.Context, opts Options) (*Engine, error) {
	o := opts.withDefaults()
	logger := o.Logger.With("conn_id", o.ID)

	addr := net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	dialer := &net.Dialer{Timeout: o.ConnectTimeout}

	var raw net.Conn
	var err error
	if o.TLS {
		tlsCfg := o.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: o.Host}
		}
		raw, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap: dial %s: %w", addr, err)
	}

	e := &Engine{
		opts:           o,
		raw:            raw,
		conn:           raw,
		framer:         imap.NewFramer(),
		sem:            semaphore.NewWeighted(1),
		caps:           make(map[string]bool),
		continuation:   make(chan *imap.ResponseMessage, 1),
		logger:         logger,
		Scheduler:      mailbox.NewScheduler(),
		existsCh:       make(chan ExistsEvent, 32),
		expungeCh:      make(chan ExpungeEvent, 32),
		flagsCh:        make(chan FlagsEvent, 32),
		mailboxOpenCh:  make(chan Mailbox, 4),
		mailboxCloseCh: make(chan Mailbox, 4),
		closed:         make(chan struct{}),
		state:          StateNotAuthenticated,
	}
	e.reader = bufio.NewReader(e.conn)
	e.OnUntagged(e.applyCapabilities)
	e.OnUntagged(e.handleMailboxUntagged)

	if err := e.readGreeting(); err != nil {
		raw.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	group, _ := errgroup.WithContext(runCtx)
	e.group = group
	group.Go(func() error { return e.readLoop() })

	if len(e.caps) == 0 {
		if _, err := e.exec(ctx, imap.Command{Verb: "CAPABILITY"}); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := e.sendID(ctx); err != nil {
		e.Close()
		return nil, err
	}

	if o.STARTTLS {
		if err := e.startTLS(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}

	if o.User != "" {
		if err := e.login(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := e.fetchNamespace(ctx); err != nil {
		e.Close()
		return nil, err
	}

	if err := e.autoCompress(ctx); err != nil {
		e.Close()
		return nil, err
	}

	if err := e.enableExtensions(ctx); err != nil {
		e.Close()
		return nil, err
	}

	if o.AuthBox != "" {
		if _, err := e.Select(ctx, o.AuthBox, o.ReadOnly); err != nil {
			e.Close()
			return nil, err
		}
	}

	e.startAutoIdleTimer()
	return e, nil
}

func (e *Engine) readGreeting() error {
	e.raw.SetReadDeadline(time.Now().Add(e.opts.GreetingTimeout)) //nolint:errcheck
	defer e.raw.SetReadDeadline(time.Time{})                      //nolint:errcheck

	line, err := e.reader.ReadString('\n')
	if err != nil {
		return &imap.TimeoutError{Phase: "greeting", Details: err.Error()}
	}
	msg, err := imap.ParseResponse([]byte(line), nil)
	if err != nil {
		return err
	}
	if msg.Command != "OK" && msg.Command != "PREAUTH" {
		return &imap.InvalidResponseError{Response: msg}
	}
	e.applyCapabilities(msg)
	if msg.Command == "PREAUTH" {
		e.setState(StateAuthenticated)
	}
	return nil
}

// applyCapabilities records CAPABILITY tokens carried by a greeting, a
// CAPABILITY response code, or an explicit CAPABILITY command's untagged
// reply, all of which shape an Atom with Value "CAPABILITY" owning a
// Section (§4.4, §4.7 step 2).
func (e *Engine) applyCapabilities(msg *imap.ResponseMessage) {
	// An untagged "* CAPABILITY ..." response carries the tokens directly
	// as its attribute list; an OK/PREAUTH response code carries them
	// nested under a synthesized Atom's Section instead.
	if msg.Command == "CAPABILITY" {
		e.capsMu.Lock()
		for _, tok := range msg.Attributes {
			if a, ok := tok.(*imap.Atom); ok {
				e.caps[strings.ToUpper(a.Value)] = true
			}
		}
		e.capsMu.Unlock()
		return
	}

	for _, node := range msg.Attributes {
		atom, ok := node.(*imap.Atom)
		if !ok || atom.Value != "CAPABILITY" || atom.Section == nil {
			continue
		}
		e.capsMu.Lock()
		for _, tok := range atom.Section {
			if a, ok := tok.(*imap.Atom); ok {
				e.caps[strings.ToUpper(a.Value)] = true
			}
		}
		e.capsMu.Unlock()
	}
}

// HasCapability reports whether the server has advertised name (case
// folded), e.g. "LITERAL+", "IDLE", "COMPRESS=DEFLATE", "UIDPLUS".
func (e *Engine) HasCapability(name string) bool {
	e.capsMu.Lock()
	defer e.capsMu.Unlock()
	return e.caps[strings.ToUpper(name)]
}

func (e *Engine) State() ConnState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s ConnState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// nextTag returns a strictly increasing, uppercase hex tag (§4.6, §8
// property 5: "tags are unique and strictly increasing").
func (e *Engine) nextTag() string {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	e.tagSeq++
	return fmt.Sprintf("A%X", e.tagSeq)
}

// exec compiles cmd, assigns it a fresh tag, sends it (handling any
// synchronizing-literal continuation round trips), and waits for the
// tagged reply. Only one exec may be in flight at a time; later callers
// queue on the semaphore in FIFO order (§4.6 "at most one tagged command
// in flight").
func (e *Engine) exec(ctx context.Context, cmd imap.Command) (*imap.ResponseMessage, error) {
	if e.State() == StateLogout {
		return nil, &imap.NoConnectionError{Reason: "connection logged out"}
	}

	e.stopAutoIdleIfActive()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	cmd.Tag = e.nextTag()

	segs, err := imap.Compile(cmd, imap.CompileOptions{LiteralPlus: e.HasCapability("LITERAL+") || e.HasCapability("LITERAL-")})
	if err != nil {
		return nil, err
	}

	respCh := make(chan *imap.ResponseMessage, 1)
	e.pendingMu.Lock()
	e.pending = respCh
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		e.pending = nil
		e.pendingMu.Unlock()
	}()

	for _, seg := range segs {
		if e.opts.LogRaw {
			e.logger.Debug("send", "data", string(seg.Data))
		}
		if _, err := e.conn.Write(seg.Data); err != nil {
			return nil, err
		}
		if seg.AwaitContinue {
			select {
			case <-e.continuation:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.closed:
				return nil, e.closeErr()
			}
		}
	}

	select {
	case resp := <-respCh:
		e.startAutoIdleTimer()
		if resp.Command == "NO" || resp.Command == "BAD" {
			cf := &imap.CommandFailedError{Response: resp, ResponseStatus: resp.Command, ResponseText: resp.HumanReadable}
			if code, backoff, ok := imap.DetectThrottle(resp.HumanReadable); ok {
				cf.Code = code
				cf.ThrottleReset = backoff.Milliseconds()
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
				case <-e.closed:
				}
			}
			return resp, cf
		}
		e.applyCapabilities(resp)
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closed:
		return nil, e.closeErr()
	}
}

// readLoop owns the transport reader for the lifetime of the connection,
// pushing bytes through the framer and dispatching each decoded response
// (§4.2, §4.6). It exits when the transport errors or Close is called.
func (e *Engine) readLoop() error {
	buf := make([]byte, 8192)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			pushErr := e.framer.Push(buf[:n], e.dispatch)
			if pushErr != nil {
				e.fail(pushErr)
				return pushErr
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && e.isAutoIdling() {
				e.raw.SetReadDeadline(time.Time{}) //nolint:errcheck
				go e.handleIdleSocketTimeout()
				continue
			}
			e.fail(&imap.ConnectionClosedError{})
			return err
		}
	}
}

func (e *Engine) dispatch(frame imap.Frame) error {
	msg, err := imap.ParseResponse(frame.Payload, frame.Literals)
	if err != nil {
		e.logger.Warn("malformed response", "err", err)
		return nil
	}
	if e.opts.LogRaw {
		e.logger.Debug("recv", "tag", msg.Tag, "command", msg.Command)
	}

	switch msg.Tag {
	case "+":
		select {
		case e.continuation <- msg:
		default:
		}
		return nil
	case "*":
		e.handlersMu.Lock()
		hs := make([]untaggedHandler, 0, len(e.handlers))
		for _, h := range e.handlers {
			hs = append(hs, h)
		}
		e.handlersMu.Unlock()
		for _, h := range hs {
			h(msg)
		}
		if msg.Command == "BYE" {
			e.setState(StateLogout)
		}
		return nil
	default:
		e.pendingMu.Lock()
		ch := e.pending
		e.pendingMu.Unlock()
		if ch != nil {
			ch <- msg
		}
		return nil
	}
}

// OnUntagged registers a callback invoked for every untagged response, in
// the order the reader loop sees them, and returns a function that
// removes it. Used by the fetch streamer and the IDLE controller to
// observe EXISTS/EXPUNGE/FETCH without stealing the single in-flight
// tagged slot; both remove their handler once their command completes so
// a finished stream's closed channel is never written to again.
func (e *Engine) OnUntagged(h untaggedHandler) (remove func()) {
	e.handlersMu.Lock()
	if e.handlers == nil {
		e.handlers = make(map[uint64]untaggedHandler)
	}
	id := e.handlerSeq
	e.handlerSeq++
	e.handlers[id] = h
	e.handlersMu.Unlock()

	return func() {
		e.handlersMu.Lock()
		delete(e.handlers, id)
		e.handlersMu.Unlock()
	}
}

func (e *Engine) fail(err error) {
	e.closeOnce.Do(func() {
		e.readErr = err
		close(e.closed)
	})
}

func (e *Engine) closeErr() error {
	if e.readErr != nil {
		return e.readErr
	}
	return &imap.ConnectionClosedError{}
}

// Close sends LOGOUT if the connection is still usable, then tears down
// the transport and reader goroutine. Close is idempotent.
func (e *Engine) Close() error {
	e.stopAutoIdleTimer()
	e.stopAutoIdleIfActive()
	if e.State() != StateLogout {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.exec(ctx, imap.Command{Verb: "LOGOUT"}) //nolint:errcheck // best-effort logout
		cancel()
	}
	e.setState(StateLogout)
	e.closeMailbox()
	e.fail(&imap.NoConnectionError{Reason: "closed"})
	if e.cancel != nil {
		e.cancel()
	}
	err := e.raw.Close()
	if e.group != nil {
		e.group.Wait() //nolint:errcheck // readLoop's error is expected once closed
	}
	return err
}

func (e *Engine) login(ctx context.Context) error {
	_, err := e.exec(ctx, imap.Command{
		Verb: "LOGIN",
		Args: []imap.Node{
			&imap.String{Value: []byte(e.opts.User)},
			&imap.String{Value: []byte(e.opts.Password), Sensitive: true},
		},
	})
	if err != nil {
		return &imap.AuthenticationFailedError{}
	}
	e.setState(StateAuthenticated)
	return nil
}

func (e *Engine) startTLS(ctx context.Context) error {
	if _, err := e.exec(ctx, imap.Command{Verb: "STARTTLS"}); err != nil {
		return err
	}
	if e.reader.Buffered() > 0 {
		return fmt.Errorf("imap: buffered plaintext survives STARTTLS negotiation")
	}

	tlsCfg := e.opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: e.opts.Host}
	}

	deadline := time.Now().Add(e.opts.UpgradeTimeout)
	e.raw.SetDeadline(deadline) //nolint:errcheck
	tlsConn, err := upgradeTLS(e.raw, tlsCfg)
	e.raw.SetDeadline(time.Time{}) //nolint:errcheck
	if err != nil {
		return &imap.TimeoutError{Phase: "upgrade", Details: err.Error()}
	}

	e.conn = tlsConn
	e.reader = bufio.NewReader(e.conn)
	e.framer = imap.NewFramer()

	e.capsMu.Lock()
	e.caps = make(map[string]bool)
	e.capsMu.Unlock()
	_, err = e.exec(ctx, imap.Command{Verb: "CAPABILITY"})
	return err
}

// Compress negotiates COMPRESS=DEFLATE and splices a flate reader/writer
// onto the existing socket (§4.7 step 6, SPEC_FULL domain-stack wiring).
func (e *Engine) Compress(ctx context.Context) error {
	if !e.HasCapability("COMPRESS=DEFLATE") {
		return fmt.Errorf("imap: server did not advertise COMPRESS=DEFLATE")
	}
	if _, err := e.exec(ctx, imap.Command{Verb: "COMPRESS", Args: []imap.Node{&imap.Atom{Value: "DEFLATE"}}}); err != nil {
		return err
	}
	e.conn = newFlateConn(e.raw)
	e.reader = bufio.NewReader(e.conn)
	e.framer = imap.NewFramer()
	return nil
}

// Select brings the mailbox named box into Selected state, acquiring the
// exclusive mailbox slot from Scheduler (§4.8). box is normalized first
// (INBOX case-fold, namespace prefix/delimiter) — see ResolveMailboxPath
// for resolving an array of path segments before calling Select. If the
// connection already has this exact path selected with the same readOnly
// mode, the cached selection is reused and no SELECT/EXAMINE is re-issued.
// readOnly (or the engine's ReadOnly option) uses EXAMINE instead of
// SELECT. A NO reply triggers a `LIST "" box` probe; if that confirms the
// mailbox doesn't exist, the error is a *imap.MailboxMissingError.
func (e *Engine) Select(ctx context.Context, box string, readOnly bool) (*mailbox.LockTicket, error) {
	path := e.normalizeMailboxPath(box)
	effReadOnly := readOnly || e.opts.ReadOnly

	ticket, err := e.Scheduler.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}

	if e.Scheduler.WasSelected(path, effReadOnly) {
		e.setState(StateSelected)
		return ticket, nil
	}

	verb := "SELECT"
	if effReadOnly {
		verb = "EXAMINE"
	}
	if _, err := e.exec(ctx, imap.Command{Verb: verb, Args: []imap.Node{&imap.String{Value: []byte(path)}}}); err != nil {
		ticket.Release()
		var cf *imap.CommandFailedError
		if errors.As(err, &cf) && cf.ResponseStatus == "NO" && e.probeMailboxMissing(ctx, path) {
			return nil, &imap.MailboxMissingError{Path: path, Err: err}
		}
		return nil, err
	}

	e.Scheduler.MarkSelected(path, effReadOnly)
	e.closeMailbox()
	e.openMailbox(path, effReadOnly)
	e.setState(StateSelected)
	return ticket, nil
}

// CloseMailbox issues CLOSE, destroying the currently selected mailbox
// (expunging any \Deleted messages server-side) and releasing ticket, the
// LockTicket Select returned for it.
func (e *Engine) CloseMailbox(ctx context.Context, ticket *mailbox.LockTicket) error {
	_, err := e.exec(ctx, imap.Command{Verb: "CLOSE"})
	e.closeMailbox()
	e.Scheduler.ClearSelected()
	ticket.Release()
	if err == nil {
		e.setState(StateAuthenticated)
	}
	return err
}

// Exec runs an arbitrary Command, applying the client-side read-only
// guard first when the engine was configured with ReadOnly.
func (e *Engine) Exec(ctx context.Context, cmd imap.Command) (*imap.ResponseMessage, error) {
	if e.opts.ReadOnly {
		result := imap.Filter(cmd)
		switch result.Action {
		case imap.Block:
			return nil, fmt.Errorf("imap: %s", strings.TrimSpace(result.RejectMsg))
		case imap.Rewrite:
			cmd = *result.Rewritten
		}
	}
	return e.exec(ctx, cmd)
}
