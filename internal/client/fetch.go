package client

import (
	"context"
	"strconv"
	"sync"

	"imapflow/internal/imap"
)

// FetchResult is one "* n FETCH (...)" delivered while a FETCH/UID FETCH
// command is in flight. SeqNum is the message's position in the mailbox
// (not its UID, unless the UID data item itself was requested and is
// present in Attributes) — the leading nz-number response.ParseResponse
// already folds into Attributes[0] (§9 message-data grammar).
type FetchResult struct {
	SeqNum     uint64
	Attributes []imap.Node
}

// FetchStream delivers FETCH results as they arrive, one at a time,
// back-pressuring the reader loop: the loop blocks handing off each
// result until the caller's Next call takes and acknowledges it,
// so a slow consumer never causes unbounded buffering of a large FETCH
// response (§4.9, §8 "fetch is back-pressured").
type FetchStream struct {
	ctx    context.Context
	items  chan fetchItem
	doneMu sync.Mutex
	done   bool
	err    error
}

type fetchItem struct {
	result FetchResult
	ack    chan struct{}
}

// Fetch issues a FETCH (or, when uid is true, UID FETCH) command and
// returns a stream of its untagged results. The stream closes once the
// tagged reply arrives; call Err after the final Next returns false.
func (e *Engine) Fetch(ctx context.Context, seqSet string, dataItems []imap.Node, uid bool) *FetchStream {
	fs := &FetchStream{ctx: ctx, items: make(chan fetchItem)}

	handler := func(msg *imap.ResponseMessage) {
		if msg.Command != "FETCH" || len(msg.Attributes) < 2 {
			return
		}
		num, ok := msg.Attributes[0].(*imap.Number)
		if !ok {
			return
		}
		list, ok := msg.Attributes[1].(*imap.List)
		if !ok {
			return
		}
		item := fetchItem{
			result: FetchResult{SeqNum: num.Value, Attributes: list.Items},
			ack:    make(chan struct{}),
		}
		select {
		case fs.items <- item:
			select {
			case <-item.ack:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}
	remove := e.OnUntagged(handler)

	cmd := imap.Command{Verb: "FETCH", Args: append([]imap.Node{&imap.Sequence{Value: seqSet}}, wrapDataItems(dataItems)...)}
	if uid {
		cmd.Verb = "UID"
		cmd.SubVerb = "FETCH"
	}

	go func() {
		_, err := e.Exec(ctx, cmd)
		remove()
		fs.doneMu.Lock()
		fs.done = true
		fs.err = err
		fs.doneMu.Unlock()
		close(fs.items)
	}()

	return fs
}

// FetchOne is the single-item convenience form of Fetch (§4.9). seq=="*"
// substitutes the mailbox's current Exists count and forces sequence-number
// mode (never UID), matching §4.11's "*" resolution; any other seq is sent
// as given in whichever mode uid selects. It reports ok=false when there was
// nothing to fetch (an empty mailbox with seq=="*") or the command produced
// no result before its tagged reply.
func (e *Engine) FetchOne(ctx context.Context, seq string, dataItems []imap.Node, uid bool) (FetchResult, bool, error) {
	if seq == "*" {
		exists := e.Mailbox().Exists
		if exists == 0 {
			return FetchResult{}, false, nil
		}
		seq = strconv.FormatUint(uint64(exists), 10)
		uid = false
	}

	fs := e.Fetch(ctx, seq, dataItems, uid)
	result, ok := fs.Next()
	if !ok {
		return FetchResult{}, false, fs.Err()
	}
	for {
		if _, more := fs.Next(); !more {
			break
		}
	}
	return result, true, fs.Err()
}

// wrapDataItems renders the requested data items as a single parenthesized
// list when there is more than one, matching the fetch-att grammar's
// "(" 1#fetch-att ")" form (§9); a lone item stays unparenthesized.
func wrapDataItems(items []imap.Node) []imap.Node {
	if len(items) == 1 {
		return items
	}
	return []imap.Node{&imap.List{Items: items}}
}

// Next blocks for the next result and acknowledges it on receipt (thereby
// releasing back-pressure so the reader loop can move on to the following
// response, whose handoff then waits for the next call to Next). It
// reports false once the command's tagged reply has arrived and every
// buffered result has been delivered.
func (fs *FetchStream) Next() (FetchResult, bool) {
	select {
	case item, ok := <-fs.items:
		if !ok {
			return FetchResult{}, false
		}
		close(item.ack)
		return item.result, true
	case <-fs.ctx.Done():
		return FetchResult{}, false
	}
}

// Err returns the error the underlying command finished with, if any.
// Call it only after Next has returned false.
func (fs *FetchStream) Err() error {
	fs.doneMu.Lock()
	defer fs.doneMu.Unlock()
	return fs.err
}
