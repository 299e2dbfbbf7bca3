package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"imapflow/internal/imap"
)

// sendID issues the RFC 2971 ID command (§4.7 bring-up step 2) when the
// server advertises ID and the caller configured ClientInfo; otherwise it's
// a no-op, matching servers (and callers) that never mention ID at all.
func (e *Engine) sendID(ctx context.Context) error {
	if !e.HasCapability("ID") || len(e.opts.ClientInfo) == 0 {
		return nil
	}
	args := make([]imap.Node, 0, len(e.opts.ClientInfo)*2)
	for k, v := range e.opts.ClientInfo {
		args = append(args, &imap.String{Value: []byte(k)}, &imap.String{Value: []byte(v)})
	}
	_, err := e.exec(ctx, imap.Command{Verb: "ID", Args: []imap.Node{&imap.List{Items: args}}})
	return err
}

// fetchNamespace issues NAMESPACE (§4.7 bring-up step 5) and records the
// Personal namespace's prefix/delimiter for path resolution. Exchange
// reports a logged-in-but-disconnected mailbox store with a BAD reply
// whose text says "User is authenticated but not connected" rather than a
// LOGIN failure; that's surfaced here as AuthenticationFailedError since
// bring-up can't proceed past it either way.
func (e *Engine) fetchNamespace(ctx context.Context) error {
	if !e.HasCapability("NAMESPACE") {
		return nil
	}
	msg, err := e.exec(ctx, imap.Command{Verb: "NAMESPACE"})
	if err != nil {
		if mapped := mapExchangeAuthFailure(err); mapped != nil {
			return mapped
		}
		return err
	}
	e.applyNamespace(msg)
	return nil
}

func mapExchangeAuthFailure(err error) error {
	var cf *imap.CommandFailedError
	if errors.As(err, &cf) && cf.ResponseStatus == "BAD" &&
		strings.Contains(strings.ToLower(cf.ResponseText), "authenticated but not connected") {
		return &imap.AuthenticationFailedError{Response: cf.Response}
	}
	return nil
}

// applyNamespace records the Personal namespace's prefix and hierarchy
// delimiter from a NAMESPACE reply (RFC 2342): three lists (personal,
// other-users, shared), each NIL or a list of (prefix delimiter) pairs.
// Only the first personal entry is kept — the one path resolution cares
// about.
func (e *Engine) applyNamespace(msg *imap.ResponseMessage) {
	if msg == nil || len(msg.Attributes) == 0 {
		return
	}
	personal, ok := msg.Attributes[0].(*imap.List)
	if !ok || len(personal.Items) == 0 {
		return
	}
	entry, ok := personal.Items[0].(*imap.List)
	if !ok || len(entry.Items) < 2 {
		return
	}
	delim := nodeString(entry.Items[1])
	if delim == "" {
		return
	}
	e.nsMu.Lock()
	e.nsPrefix = nodeString(entry.Items[0])
	e.nsDelim = delim
	e.nsMu.Unlock()
}

func nodeString(n imap.Node) string {
	switch v := n.(type) {
	case *imap.String:
		return string(v.Value)
	case *imap.Atom:
		return v.Value
	default:
		return ""
	}
}

func (e *Engine) namespaceDelimiter() string {
	e.nsMu.Lock()
	defer e.nsMu.Unlock()
	if e.nsDelim == "" {
		return "/"
	}
	return e.nsDelim
}

func (e *Engine) namespacePrefix() string {
	e.nsMu.Lock()
	defer e.nsMu.Unlock()
	return e.nsPrefix
}

// JoinMailboxPath joins path segments with the discovered namespace
// delimiter (falling back to "/" before NAMESPACE has run), e.g.
// JoinMailboxPath("Archive", "2024") -> "Archive/2024" (§4.8 "array join").
func (e *Engine) JoinMailboxPath(segments ...string) string {
	return strings.Join(segments, e.namespaceDelimiter())
}

// ResolveMailboxPath joins segments the way JoinMailboxPath does, then
// case-folds a bare "INBOX" to its canonical spelling and, for any other
// name, prepends the Personal namespace prefix if it isn't already present
// (§4.8 "path normalization": INBOX case-fold, namespace prefix/delimiter,
// array join).
func (e *Engine) ResolveMailboxPath(segments ...string) string {
	joined := e.JoinMailboxPath(segments...)
	return e.normalizeMailboxPath(joined)
}

func (e *Engine) normalizeMailboxPath(path string) string {
	if strings.EqualFold(path, "INBOX") {
		return "INBOX"
	}
	prefix := e.namespacePrefix()
	if prefix != "" && !strings.HasPrefix(path, prefix) {
		path = prefix + path
	}
	return path
}

// autoCompress negotiates COMPRESS=DEFLATE after LOGIN and NAMESPACE when the
// server advertises it and the caller hasn't disabled it (§4.7 bring-up
// step 6).
func (e *Engine) autoCompress(ctx context.Context) error {
	if e.opts.DisableCompression || !e.HasCapability("COMPRESS=DEFLATE") {
		return nil
	}
	return e.Compress(ctx)
}

// enableExtensions issues ENABLE CONDSTORE UTF8=ACCEPT [QRESYNC] right
// after bring-up completes (§4.7 bring-up step 7), restricted to whatever
// the server actually advertised, and skipped entirely when the caller set
// DisableAutoEnable or the server doesn't support ENABLE at all.
func (e *Engine) enableExtensions(ctx context.Context) error {
	if e.opts.DisableAutoEnable || !e.HasCapability("ENABLE") {
		return nil
	}
	var args []imap.Node
	if e.HasCapability("CONDSTORE") {
		args = append(args, &imap.Atom{Value: "CONDSTORE"})
	}
	if e.HasCapability("UTF8=ACCEPT") {
		args = append(args, &imap.Atom{Value: "UTF8=ACCEPT"})
	}
	if e.opts.QResync && e.HasCapability("QRESYNC") {
		args = append(args, &imap.Atom{Value: "QRESYNC"})
	}
	if len(args) == 0 {
		return nil
	}
	_, err := e.exec(ctx, imap.Command{Verb: "ENABLE", Args: args})
	return err
}

// probeMailboxMissing issues `LIST "" path` and reports whether the server
// returned zero LIST entries for it, i.e. the mailbox itself doesn't exist
// rather than the SELECT having failed for some other reason (§4.8).
func (e *Engine) probeMailboxMissing(ctx context.Context, path string) bool {
	found := false
	remove := e.OnUntagged(func(msg *imap.ResponseMessage) {
		if msg.Command == "LIST" {
			found = true
		}
	})
	defer remove()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	e.exec(probeCtx, imap.Command{Verb: "LIST", Args: []imap.Node{ //nolint:errcheck
		&imap.String{Value: []byte("")},
		&imap.String{Value: []byte(path)},
	}})
	return !found
}
