package client

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"imapflow/internal/imap"
)

// SeqSet builds a sequence-set string per §4.11 (the grammar the compiler
// emits as a Sequence node when it contains "*", or as a plain Atom
// otherwise — Compile doesn't care which, it writes whatever string it's
// given).
type SeqSet struct {
	b strings.Builder
}

// AddNumber appends a single message number or UID.
func (s *SeqSet) AddNumber(n uint32) *SeqSet {
	s.sep()
	s.b.WriteString(strconv.FormatUint(uint64(n), 10))
	return s
}

// AddRange appends a from:to range. Use 0 for to to mean "*" (the
// highest-numbered message/UID, §4.11 "open-ended range").
func (s *SeqSet) AddRange(from, to uint32) *SeqSet {
	s.sep()
	s.b.WriteString(strconv.FormatUint(uint64(from), 10))
	s.b.WriteByte(':')
	if to == 0 {
		s.b.WriteByte('*')
	} else {
		s.b.WriteString(strconv.FormatUint(uint64(to), 10))
	}
	return s
}

// AddAll appends the bare "*" wildcard (highest-numbered message/UID).
func (s *SeqSet) AddAll() *SeqSet {
	s.sep()
	s.b.WriteByte('*')
	return s
}

func (s *SeqSet) sep() {
	if s.b.Len() > 0 {
		s.b.WriteByte(',')
	}
}

// String renders the accumulated sequence-set.
func (s *SeqSet) String() string { return s.b.String() }

// ParseSeqSet validates and splits a sequence-set string of the form
// "1:5,7,9:*" into its comma-separated terms, rejecting anything that
// isn't built from digits, ':' and '*' (§4.11 round trip with the
// wire-level Sequence/Atom node produced by the parser).
func ParseSeqSet(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("imap: empty sequence set")
	}
	terms := strings.Split(raw, ",")
	for _, term := range terms {
		if term == "" {
			return nil, fmt.Errorf("imap: empty term in sequence set %q", raw)
		}
		parts := strings.SplitN(term, ":", 2)
		for _, p := range parts {
			if p == "*" {
				continue
			}
			for _, r := range p {
				if r < '0' || r > '9' {
					return nil, fmt.Errorf("imap: invalid sequence-set term %q", term)
				}
			}
			if p == "" {
				return nil, fmt.Errorf("imap: invalid sequence-set term %q", term)
			}
		}
	}
	return terms, nil
}

// RangeSpec is the tagged union a caller passes to fetch/fetchOne to name
// which messages to act on (§4.11): a plain sequence number, the "*"
// wildcard (the highest message in the mailbox), {All: true} (the whole
// mailbox), {UID: v} (a single UID), a SEARCH criteria list, an array of
// specs to resolve individually and join, or the zero value ("falsy" —
// nothing to do, skip the command entirely).
type RangeSpec struct {
	Number uint32
	Star   bool
	All    bool
	UID    uint32
	HasUID bool
	Search []imap.Node
	Array  []RangeSpec
}

func (r RangeSpec) isZero() bool {
	return r.Number == 0 && !r.Star && !r.All && !r.HasUID && r.Search == nil && r.Array == nil
}

// ResolvedRange is what a RangeSpec resolves to: the sequence-set string to
// send on the wire, whether it addresses UIDs or sequence numbers, and
// whether the caller should skip the command entirely (§4.11).
type ResolvedRange struct {
	SeqSet string
	UID    bool
	Skip   bool
}

// ResolveRange turns spec into a wire-ready sequence set (§4.11). defaultUID
// is the UID-vs-sequence mode to use for forms that don't force one (a bare
// Number or {All: true}); forms that do force a mode ("*", {UID: v}, a
// SEARCH) override it.
func (e *Engine) ResolveRange(ctx context.Context, spec RangeSpec, defaultUID bool) (ResolvedRange, error) {
	if spec.isZero() {
		return ResolvedRange{Skip: true}, nil
	}

	switch {
	case spec.Star:
		exists := e.Mailbox().Exists
		if exists == 0 {
			return ResolvedRange{Skip: true}, nil
		}
		return ResolvedRange{SeqSet: strconv.FormatUint(uint64(exists), 10), UID: false}, nil

	case spec.HasUID:
		return ResolvedRange{SeqSet: strconv.FormatUint(uint64(spec.UID), 10), UID: true}, nil

	case spec.Search != nil:
		nums, err := e.runSearch(ctx, spec.Search)
		if err != nil {
			return ResolvedRange{}, err
		}
		if len(nums) == 0 {
			return ResolvedRange{Skip: true}, nil
		}
		return ResolvedRange{SeqSet: PackMessageRange(nums), UID: true}, nil

	case spec.Array != nil:
		var parts []string
		for _, item := range spec.Array {
			r, err := e.ResolveRange(ctx, item, defaultUID)
			if err != nil {
				return ResolvedRange{}, err
			}
			if r.Skip {
				continue
			}
			parts = append(parts, r.SeqSet)
		}
		if len(parts) == 0 {
			return ResolvedRange{Skip: true}, nil
		}
		return ResolvedRange{SeqSet: strings.Join(parts, ","), UID: defaultUID}, nil

	case spec.All:
		return ResolvedRange{SeqSet: "1:*", UID: defaultUID}, nil

	default:
		return ResolvedRange{SeqSet: strconv.FormatUint(uint64(spec.Number), 10), UID: defaultUID}, nil
	}
}

// runSearch issues a UID SEARCH with criteria and collects every number
// reported by the untagged SEARCH response (§4.11 "other search-object").
func (e *Engine) runSearch(ctx context.Context, criteria []imap.Node) ([]uint32, error) {
	var nums []uint32
	remove := e.OnUntagged(func(msg *imap.ResponseMessage) {
		if msg.Command != "SEARCH" {
			return
		}
		for _, a := range msg.Attributes {
			if n, ok := a.(*imap.Number); ok {
				nums = append(nums, uint32(n.Value))
			}
		}
	})
	defer remove()

	if _, err := e.Exec(ctx, imap.Command{Verb: "UID", SubVerb: "SEARCH", Args: criteria}); err != nil {
		return nil, err
	}
	return nums, nil
}

// PackMessageRange sorts and dedupes nums, then packs consecutive runs into
// "a:b" terms and singletons into bare numbers, comma-joining the result
// (§4.11, §8 property 10: expanding PackMessageRange(s) yields s sorted and
// deduped).
func PackMessageRange(nums []uint32) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := append([]uint32(nil), nums...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	deduped := sorted[:1]
	for _, n := range sorted[1:] {
		if n != deduped[len(deduped)-1] {
			deduped = append(deduped, n)
		}
	}

	var terms []string
	start := deduped[0]
	prev := deduped[0]
	flush := func(end uint32) {
		if start == end {
			terms = append(terms, strconv.FormatUint(uint64(start), 10))
		} else {
			terms = append(terms, fmt.Sprintf("%d:%d", start, end))
		}
	}
	for _, n := range deduped[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start, prev = n, n
	}
	flush(prev)
	return strings.Join(terms, ",")
}
