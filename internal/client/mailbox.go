package client

import (
	"strconv"
	"strings"

	"imapflow/internal/imap"
)

// Mailbox is the engine's live view of the currently selected mailbox (§3).
// Engine.Mailbox returns an immutable snapshot; the engine itself owns the
// mutable copy, replaces it when Select opens a mailbox, and updates its
// fields in place from the untagged handlers registered in Dial.
type Mailbox struct {
	Path           string
	Exists         uint32
	UIDValidity    uint64
	UIDNext        uint32
	HighestModSeq  uint64
	ReadOnly       bool
	Flags          []string
	PermanentFlags []string
}

// ExistsEvent mirrors the §6 "exists" event: the mailbox's message count
// changed.
type ExistsEvent struct {
	Path      string
	Count     uint32
	PrevCount uint32
}

// ExpungeEvent mirrors the §6 "expunge" event. A classic EXPUNGE reports
// Seq; a QRESYNC VANISHED reports UID instead and sets Vanished (Earlier is
// set when the VANISHED carried the (EARLIER) tag).
type ExpungeEvent struct {
	Path     string
	Seq      uint32
	UID      uint32
	Vanished bool
	Earlier  bool
}

// FlagsEvent mirrors the §6 "flags" event, emitted for an untagged FETCH
// that carries a FLAGS data item.
type FlagsEvent struct {
	Path      string
	Seq       uint32
	UID       uint32
	ModSeq    uint64
	Flags     []string
	FlagColor string
}

func (e *Engine) mailboxSnapshot() Mailbox {
	e.mailboxMu.Lock()
	defer e.mailboxMu.Unlock()
	if e.mailboxState == nil {
		return Mailbox{}
	}
	m := *e.mailboxState
	m.Flags = append([]string(nil), e.mailboxState.Flags...)
	m.PermanentFlags = append([]string(nil), e.mailboxState.PermanentFlags...)
	return m
}

// Mailbox returns an immutable snapshot of the currently selected mailbox,
// or the zero value if none is selected.
func (e *Engine) Mailbox() Mailbox { return e.mailboxSnapshot() }

// Exists reports every "exists" event (§6); emitted even while no other
// caller is actively draining it, best-effort (a full channel drops the
// event rather than blocking the reader loop).
func (e *Engine) Exists() <-chan ExistsEvent { return e.existsCh }

// Expunge reports every "expunge" event (§6), covering both classic
// EXPUNGE and QRESYNC VANISHED.
func (e *Engine) Expunge() <-chan ExpungeEvent { return e.expungeCh }

// Flags reports every untagged FETCH carrying a FLAGS data item (§6).
func (e *Engine) Flags() <-chan FlagsEvent { return e.flagsCh }

// MailboxOpened reports a snapshot each time SELECT/EXAMINE brings a new
// mailbox into Selected state (§6 "mailboxOpen").
func (e *Engine) MailboxOpened() <-chan Mailbox { return e.mailboxOpenCh }

// MailboxClosed reports a snapshot of the mailbox that was just destroyed,
// by CLOSE, re-SELECT of a different path, or LOGOUT (§6 "mailboxClose").
func (e *Engine) MailboxClosed() <-chan Mailbox { return e.mailboxCloseCh }

func (e *Engine) openMailbox(path string, readOnly bool) {
	e.mailboxMu.Lock()
	e.mailboxState = &Mailbox{Path: path, ReadOnly: readOnly}
	e.mailboxMu.Unlock()
	e.nonBlockingSend(e.mailboxOpenCh, e.mailboxSnapshot())
}

func (e *Engine) closeMailbox() {
	e.mailboxMu.Lock()
	prev := e.mailboxState
	e.mailboxState = nil
	e.mailboxMu.Unlock()
	if prev != nil {
		snap := *prev
		snap.Flags = append([]string(nil), prev.Flags...)
		snap.PermanentFlags = append([]string(nil), prev.PermanentFlags...)
		e.nonBlockingSend(e.mailboxCloseCh, snap)
	}
}

func (e *Engine) nonBlockingSend(ch chan Mailbox, m Mailbox) {
	select {
	case ch <- m:
	default:
		e.logger.Warn("mailbox lifecycle event dropped: consumer not draining")
	}
}

func (e *Engine) emitExists(ev ExistsEvent) {
	select {
	case e.existsCh <- ev:
	default:
		e.logger.Warn("exists event dropped: consumer not draining Exists channel")
	}
}

func (e *Engine) emitExpunge(ev ExpungeEvent) {
	select {
	case e.expungeCh <- ev:
	default:
		e.logger.Warn("expunge event dropped: consumer not draining Expunge channel")
	}
}

func (e *Engine) emitFlags(ev FlagsEvent) {
	select {
	case e.flagsCh <- ev:
	default:
		e.logger.Warn("flags event dropped: consumer not draining Flags channel")
	}
}

// handleMailboxUntagged dispatches the untagged responses that mutate the
// live Mailbox object: EXISTS, EXPUNGE, VANISHED, and FETCH (for flag
// changes) — registered persistently in Dial so it sees these regardless of
// whether a fetch/idle-specific handler is also listening (§4.7, §3).
func (e *Engine) handleMailboxUntagged(msg *imap.ResponseMessage) {
	switch msg.Command {
	case "EXISTS":
		e.handleExists(msg)
	case "EXPUNGE":
		e.handleExpunge(msg)
	case "VANISHED":
		e.handleVanished(msg)
	case "FETCH":
		e.handleFetchFlags(msg)
	}
}

func firstNumber(attrs []imap.Node) (uint64, bool) {
	if len(attrs) == 0 {
		return 0, false
	}
	n, ok := attrs[0].(*imap.Number)
	if !ok {
		return 0, false
	}
	return n.Value, true
}

func (e *Engine) handleExists(msg *imap.ResponseMessage) {
	n, ok := firstNumber(msg.Attributes)
	if !ok {
		return
	}
	count := uint32(n)

	e.mailboxMu.Lock()
	if e.mailboxState == nil {
		e.mailboxMu.Unlock()
		return
	}
	prev := e.mailboxState.Exists
	path := e.mailboxState.Path
	e.mailboxState.Exists = count
	e.mailboxMu.Unlock()

	if prev == count {
		return
	}
	e.emitExists(ExistsEvent{Path: path, Count: count, PrevCount: prev})
}

func (e *Engine) handleExpunge(msg *imap.ResponseMessage) {
	n, ok := firstNumber(msg.Attributes)
	if !ok {
		return
	}
	seq := uint32(n)

	e.mailboxMu.Lock()
	if e.mailboxState == nil {
		e.mailboxMu.Unlock()
		return
	}
	if e.mailboxState.Exists > 0 {
		e.mailboxState.Exists--
	}
	path := e.mailboxState.Path
	e.mailboxMu.Unlock()

	e.emitExpunge(ExpungeEvent{Path: path, Seq: seq})
}

func (e *Engine) handleVanished(msg *imap.ResponseMessage) {
	earlier := false
	var uidTok string
	for _, a := range msg.Attributes {
		switch v := a.(type) {
		case *imap.List:
			for _, item := range v.Items {
				if atom, ok := item.(*imap.Atom); ok && strings.EqualFold(atom.Value, "EARLIER") {
					earlier = true
				}
			}
		case *imap.Sequence:
			uidTok = v.Value
		case *imap.Atom:
			uidTok = v.Value
		case *imap.Number:
			uidTok = strconv.FormatUint(v.Value, 10)
		}
	}
	if uidTok == "" {
		return
	}
	uids, err := expandSeqSet(uidTok)
	if err != nil {
		return
	}

	e.mailboxMu.Lock()
	path := ""
	if e.mailboxState != nil {
		path = e.mailboxState.Path
	}
	e.mailboxMu.Unlock()

	for _, u := range uids {
		e.emitExpunge(ExpungeEvent{Path: path, UID: u, Vanished: true, Earlier: earlier})
	}
}

func (e *Engine) handleFetchFlags(msg *imap.ResponseMessage) {
	if len(msg.Attributes) < 2 {
		return
	}
	seqN, ok := msg.Attributes[0].(*imap.Number)
	if !ok {
		return
	}
	list, ok := msg.Attributes[1].(*imap.List)
	if !ok {
		return
	}

	var flags []string
	var uid, modseq uint64
	haveFlags := false
	for i := 0; i+1 < len(list.Items); i += 2 {
		key, ok := list.Items[i].(*imap.Atom)
		if !ok {
			continue
		}
		switch strings.ToUpper(key.Value) {
		case "FLAGS":
			fl, ok := list.Items[i+1].(*imap.List)
			if !ok {
				continue
			}
			haveFlags = true
			for _, f := range fl.Items {
				if a, ok := f.(*imap.Atom); ok {
					flags = append(flags, a.Value)
				}
			}
		case "UID":
			if n, ok := list.Items[i+1].(*imap.Number); ok {
				uid = n.Value
			}
		case "MODSEQ":
			l, ok := list.Items[i+1].(*imap.List)
			if !ok || len(l.Items) != 1 {
				continue
			}
			if n, ok := l.Items[0].(*imap.Number); ok {
				modseq = n.Value
			}
		}
	}
	if !haveFlags {
		return
	}

	e.mailboxMu.Lock()
	path := ""
	if e.mailboxState != nil {
		path = e.mailboxState.Path
	}
	e.mailboxMu.Unlock()

	e.emitFlags(FlagsEvent{
		Path:      path,
		Seq:       uint32(seqN.Value),
		UID:       uint32(uid),
		ModSeq:    modseq,
		Flags:     flags,
		FlagColor: flagColor(flags),
	})
}

// flagColor gives a coarse classification a UI might use to color a
// message row; it is not an IMAP concept, just a convenience derived from
// the flag set (§6 "flagColor?").
func flagColor(flags []string) string {
	for _, f := range flags {
		switch f {
		case `\Flagged`:
			return "flagged"
		case `\Deleted`:
			return "deleted"
		}
	}
	return ""
}

// expandSeqSet expands a sequence-set string into individual numbers,
// skipping any "*" term since VANISHED's caller has no mailbox.exists-style
// substitution available for it.
func expandSeqSet(raw string) ([]uint32, error) {
	terms, err := ParseSeqSet(raw)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, term := range terms {
		if term == "*" {
			continue
		}
		parts := strings.SplitN(term, ":", 2)
		if len(parts) == 1 {
			n, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				continue
			}
			out = append(out, uint32(n))
			continue
		}
		if parts[0] == "*" || parts[1] == "*" {
			continue
		}
		from, err1 := strconv.ParseUint(parts[0], 10, 32)
		to, err2 := strconv.ParseUint(parts[1], 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		if to < from {
			from, to = to, from
		}
		for n := from; n <= to; n++ {
			out = append(out, uint32(n))
		}
	}
	return out, nil
}
