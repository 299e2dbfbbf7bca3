package client

import (
	"context"
	"time"

	"imapflow/internal/imap"
)

// idleStartDelay is how long the connection sits quiet after a completed
// command before auto-IDLE takes over (§4.10, C10).
const idleStartDelay = 15 * time.Second

// startAutoIdleTimer (re)arms the post-command idle scheduler. Called after
// every completed command (successful or not) so the 15 s window always
// measures time since the connection was last doing something else.
func (e *Engine) startAutoIdleTimer() {
	if e.opts.DisableAutoIdle {
		return
	}
	e.idleTimerMu.Lock()
	defer e.idleTimerMu.Unlock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(idleStartDelay, e.beginAutoIdle)
}

func (e *Engine) stopAutoIdleTimer() {
	e.idleTimerMu.Lock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimerMu.Unlock()
}

// stopAutoIdleIfActive tears down an in-progress auto-IDLE session so the
// caller's own command can claim the single in-flight slot. It's a no-op
// when auto-IDLE isn't currently running.
func (e *Engine) stopAutoIdleIfActive() {
	e.idleMu.Lock()
	stopFn := e.idleStopFn
	e.idleMu.Unlock()
	if stopFn != nil {
		stopFn() //nolint:errcheck // best-effort DONE before the next command
	}
}

func (e *Engine) isAutoIdling() bool {
	e.idleMu.Lock()
	defer e.idleMu.Unlock()
	return e.idleActive
}

// beginAutoIdle runs one auto-IDLE session: if the server lacks IDLE, it
// substitutes MissingIdleCommand (NOOP by default) once and returns,
// letting the next startAutoIdleTimer call schedule the next keepalive. If
// IDLE is available, it holds the connection idling until either
// MaxIdleTime elapses (cycled: DONE then a fresh timer) or something else
// stops it — a real command calling stopAutoIdleIfActive, a socket-read
// timeout handled by handleIdleSocketTimeout, or the connection closing
// (§4.10).
func (e *Engine) beginAutoIdle() {
	if e.State() != StateSelected {
		return
	}

	if !e.HasCapability("IDLE") {
		cmd := e.opts.MissingIdleCommand
		if cmd == "" {
			cmd = "NOOP"
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SocketTimeout)
		defer cancel()
		e.exec(ctx, imap.Command{Verb: cmd}) //nolint:errcheck
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, stop, err := e.Idle(ctx)
	if err != nil {
		cancel()
		return
	}
	stopIdle := func() error {
		cancel()
		return stop()
	}

	e.idleMu.Lock()
	e.idleActive = true
	e.idleStopFn = stopIdle
	e.idleMu.Unlock()

	e.raw.SetReadDeadline(time.Now().Add(e.opts.SocketTimeout)) //nolint:errcheck
	defer func() {
		e.raw.SetReadDeadline(time.Time{}) //nolint:errcheck
		e.idleMu.Lock()
		e.idleActive = false
		e.idleStopFn = nil
		e.idleMu.Unlock()
	}()

	maxIdle := e.opts.MaxIdleTime
	if maxIdle <= 0 {
		maxIdle = IdleRefreshInterval
	}
	refresh := time.NewTimer(maxIdle)
	defer refresh.Stop()

	select {
	case <-events:
		// The session already ended, externally (stopAutoIdleIfActive,
		// which the next command calls) or because the connection closed.
		// Drain whatever's left; nothing to do ourselves in either case.
		for range events {
		}
	case <-refresh.C:
		stopIdle() //nolint:errcheck
		e.startAutoIdleTimer()
	case <-e.closed:
	}
}

// handleIdleSocketTimeout runs on its own goroutine when readLoop's Read
// times out while auto-IDLE is holding the connection: it cancels the IDLE
// (best-effort DONE), sends a keepalive NOOP, and re-arms the idle
// scheduler so the connection re-enters IDLE on the normal 15 s delay
// (§4.10 "socket timeout while idling: NOOP then re-enter IDLE"). It must
// never run inline on the reader goroutine — exec/stop both block on
// channels only that goroutine's dispatch loop can fill.
func (e *Engine) handleIdleSocketTimeout() {
	e.idleMu.Lock()
	stopFn := e.idleStopFn
	e.idleMu.Unlock()
	if stopFn == nil {
		return
	}
	e.raw.SetReadDeadline(time.Time{}) //nolint:errcheck
	stopFn()                           //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.SocketTimeout)
	defer cancel()
	e.exec(ctx, imap.Command{Verb: "NOOP"}) //nolint:errcheck
	e.startAutoIdleTimer()
}
