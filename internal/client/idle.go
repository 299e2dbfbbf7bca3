package client

import (
	"context"
	"time"

	"imapflow/internal/imap"
)

// IdleEvent is one untagged response observed while IDLE is active —
// typically EXISTS, EXPUNGE, FETCH (flag changes), or RECENT (§4.10,
// RFC 2177).
type IdleEvent struct {
	Command    string
	SeqNum     uint64
	Attributes []imap.Node
}

// IdleRefreshInterval is the default MaxIdleTime for the auto-IDLE
// scheduler (beginAutoIdle, §4.10): how long a single auto-IDLE session is
// held open before it is cycled (DONE, then a fresh 15 s-delayed IDLE) to
// defend against middleboxes that silently drop long-lived idle
// connections. RFC 2177 recommends re-issuing IDLE at least every 29
// minutes; this client uses a tighter default. Options.MaxIdleTime
// overrides it per connection.
const IdleRefreshInterval = 20 * time.Minute

// Idle starts an IDLE command and returns a channel of events plus a stop
// function. Calling stop sends DONE and waits for the tagged OK; the
// event channel is closed once that completes. The channel is also
// closed, with no event loss for anything already delivered, if ctx is
// canceled first.
func (e *Engine) Idle(ctx context.Context) (events <-chan IdleEvent, stop func() error, err error) {
	if !e.HasCapability("IDLE") {
		return nil, nil, &imap.CommandFailedError{ResponseStatus: "NO", ResponseText: "server does not advertise IDLE"}
	}

	ch := make(chan IdleEvent, 16)
	handler := func(msg *imap.ResponseMessage) {
		ev := IdleEvent{Command: msg.Command, Attributes: msg.Attributes}
		if len(msg.Attributes) > 0 {
			if n, ok := msg.Attributes[0].(*imap.Number); ok {
				ev.SeqNum = n.Value
				ev.Attributes = msg.Attributes[1:]
			}
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
	remove := e.OnUntagged(handler)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		remove()
		return nil, nil, err
	}

	tag := e.nextTag()
	segs, cerr := imap.Compile(imap.Command{Tag: tag, Verb: "IDLE"}, imap.CompileOptions{})
	if cerr != nil {
		e.sem.Release(1)
		remove()
		return nil, nil, cerr
	}
	if _, werr := e.conn.Write(segs[0].Data); werr != nil {
		e.sem.Release(1)
		remove()
		return nil, nil, werr
	}

	select {
	case <-e.continuation:
	case <-ctx.Done():
		e.sem.Release(1)
		remove()
		return nil, nil, ctx.Err()
	case <-e.closed:
		e.sem.Release(1)
		remove()
		return nil, nil, e.closeErr()
	}

	respCh := make(chan *imap.ResponseMessage, 1)
	e.pendingMu.Lock()
	e.pending = respCh
	e.pendingMu.Unlock()

	stopOnce := make(chan struct{})
	stopFn := func() error {
		select {
		case <-stopOnce:
			return nil
		default:
			close(stopOnce)
		}
		if _, werr := e.conn.Write([]byte("DONE\r\n")); werr != nil {
			remove()
			e.pendingMu.Lock()
			e.pending = nil
			e.pendingMu.Unlock()
			e.sem.Release(1)
			close(ch)
			return werr
		}

		var resultErr error
		select {
		case resp := <-respCh:
			if resp.Command == "NO" || resp.Command == "BAD" {
				resultErr = &imap.CommandFailedError{Response: resp, ResponseStatus: resp.Command, ResponseText: resp.HumanReadable}
			}
		case <-e.closed:
			resultErr = e.closeErr()
		}

		remove()
		e.pendingMu.Lock()
		e.pending = nil
		e.pendingMu.Unlock()
		e.sem.Release(1)
		close(ch)
		return resultErr
	}

	go func() {
		select {
		case <-ctx.Done():
			stopFn() //nolint:errcheck // best-effort DONE on cancellation
		case <-stopOnce:
		case <-e.closed:
		}
	}()

	return ch, stopFn, nil
}
