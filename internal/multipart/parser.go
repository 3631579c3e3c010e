// Package multipart implements a byte-at-a-time streaming state machine for
// HTTP multipart/form-data bodies, modeled on the callback-driven style of
// a streaming line parser (github.com/jmylchreest/tvarr's pkg/m3u.Parser)
// but operating on raw byte chunks instead of lines, with the three-byte
// boundary look-behind spec.md describes for fragmented "\r\n--" sequences.
package multipart

import "fmt"

// State is one node of the parser's state machine, executed in the order
// listed below.
type State int

const (
	StateEntityStart State = iota
	StateInitialBoundary
	StateHeaderFieldStart
	StateHeaderFieldProceed
	StateHeadersPossibleEnd
	StateHeaderValueStart
	StateHeaderValueProceed
	StatePartDataStart
	StatePartDataProceed
	StatePartDataCR
	StatePartDataLF
	StatePartDataNewlineHyphen
	StateNextBoundary
	StatePartDataPossibleEnd
	StateEntityPossibleEnd
	StateEntityEnd
	StateError
)

// Callbacks holds the event hooks a caller wires up before calling Execute.
// Any callback left nil is simply not invoked. A callback returns a non-nil
// error to halt parsing; Execute then returns having consumed fewer bytes
// than were handed to it.
type Callbacks struct {
	OnHeaderField   func(data []byte) error
	OnHeaderValue   func(data []byte) error
	OnHeadersEnd    func() error
	OnPartDataBegin func() error
	OnPartData      func(data []byte) error
	OnPartDataEnd   func() error
	OnBodyEnd       func() error
}

// Parser is a pure streaming state machine: Execute may be called any number
// of times on successive buffer chunks and preserves state across calls.
type Parser struct {
	boundary []byte
	cb       Callbacks
	state    State

	// boundaryIdx tracks how much of "--boundary" (or "\r\n--boundary") has
	// matched so far while scanning for the next part separator.
	boundaryIdx int

	// initialSeq is "-" + boundary + CRLF, matched byte-by-byte in
	// StateInitialBoundary (the leading "-" of "--boundary" is consumed by
	// StateEntityStart itself).
	initialSeq []byte

	partBegun bool

	// UsrArgs is an opaque slot for caller bookkeeping, mirroring the
	// source parser's usr_args blob embedded in its allocation.
	UsrArgs any
}

// New creates a Parser for the given multipart boundary token (without the
// leading "--").
func New(boundary string, cb Callbacks) *Parser {
	seq := make([]byte, 0, 1+len(boundary)+2)
	seq = append(seq, '-')
	seq = append(seq, boundary...)
	seq = append(seq, '\r', '\n')
	return &Parser{
		boundary:   []byte(boundary),
		cb:         cb,
		state:      StateEntityStart,
		initialSeq: seq,
	}
}

// State returns the parser's current state, chiefly useful in tests.
func (p *Parser) State() State {
	return p.state
}

// Execute feeds data into the parser and returns the number of bytes
// consumed. On normal progress this equals len(data); it is less when a
// framing error is hit or a callback returned a non-nil error, both of which
// permanently move the parser to StateError.
func (p *Parser) Execute(data []byte) (int, error) {
	if p.state == StateError {
		return 0, fmt.Errorf("multipart: parser already in error state")
	}

	i := 0
	markHeaderField := -1
	markHeaderValue := -1
	markPartData := -1

	flushHeaderField := func(end int) error {
		if markHeaderField >= 0 && p.cb.OnHeaderField != nil {
			if err := p.cb.OnHeaderField(data[markHeaderField:end]); err != nil {
				return err
			}
		}
		markHeaderField = -1
		return nil
	}
	flushHeaderValue := func(end int) error {
		if markHeaderValue >= 0 && p.cb.OnHeaderValue != nil {
			if err := p.cb.OnHeaderValue(data[markHeaderValue:end]); err != nil {
				return err
			}
		}
		markHeaderValue = -1
		return nil
	}
	flushPartData := func(end int) error {
		if markPartData >= 0 && end > markPartData && p.cb.OnPartData != nil {
			if err := p.cb.OnPartData(data[markPartData:end]); err != nil {
				return err
			}
		}
		markPartData = -1
		return nil
	}

	fail := func(err error) (int, error) {
		p.state = StateError
		return i, err
	}

	for ; i < len(data); i++ {
		c := data[i]

		switch p.state {
		case StateEntityStart:
			if c != '-' {
				return fail(fmt.Errorf("multipart: entity must begin with boundary dashes"))
			}
			p.state = StateInitialBoundary
			p.boundaryIdx = 0

		case StateInitialBoundary:
			if p.boundaryIdx >= len(p.initialSeq) || p.initialSeq[p.boundaryIdx] != c {
				return fail(fmt.Errorf("multipart: malformed initial boundary"))
			}
			p.boundaryIdx++
			if p.boundaryIdx == len(p.initialSeq) {
				p.state = StateHeaderFieldStart
			}

		case StateHeaderFieldStart:
			if c == '\r' {
				p.state = StateHeadersPossibleEnd
				continue
			}
			markHeaderField = i
			p.state = StateHeaderFieldProceed
			fallthrough

		case StateHeaderFieldProceed:
			if c == ':' {
				if err := flushHeaderField(i); err != nil {
					return fail(err)
				}
				p.state = StateHeaderValueStart
				continue
			}
			if !isLowerOrHyphen(c) {
				return fail(fmt.Errorf("multipart: invalid header field byte %q", c))
			}

		case StateHeadersPossibleEnd:
			if c != '\n' {
				return fail(fmt.Errorf("multipart: expected LF after headers CR"))
			}
			if p.cb.OnHeadersEnd != nil {
				if err := p.cb.OnHeadersEnd(); err != nil {
					return fail(err)
				}
			}
			p.state = StatePartDataStart

		case StateHeaderValueStart:
			if c == ' ' {
				continue
			}
			markHeaderValue = i
			p.state = StateHeaderValueProceed
			fallthrough

		case StateHeaderValueProceed:
			if c == '\r' {
				if err := flushHeaderValue(i); err != nil {
					return fail(err)
				}
				p.state = StateHeaderFieldStart
				// Expect and silently consume the paired LF on next byte via
				// a dedicated check: headers loop re-enters HeaderFieldStart
				// which tolerates a leading \r already handled above, but the
				// LF itself must still be consumed here.
				if i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			}

		case StatePartDataStart:
			if !p.partBegun {
				p.partBegun = true
				if p.cb.OnPartDataBegin != nil {
					if err := p.cb.OnPartDataBegin(); err != nil {
						return fail(err)
					}
				}
			}
			markPartData = i
			p.state = StatePartDataProceed
			fallthrough

		case StatePartDataProceed:
			if c == '\r' {
				if err := flushPartData(i); err != nil {
					return fail(err)
				}
				p.state = StatePartDataCR
			}

		case StatePartDataCR:
			if c == '\n' {
				p.state = StatePartDataLF
			} else {
				// False alarm: the CR was real part data.
				if err := p.emitLookbehindAndReplay(data, i-1, i); err != nil {
					return fail(err)
				}
				markPartData = i
				p.state = StatePartDataProceed
			}

		case StatePartDataLF:
			if c == '-' {
				p.state = StatePartDataNewlineHyphen
				p.boundaryIdx = 0
			} else {
				if err := p.emitLookbehindAndReplay(data, i-2, i); err != nil {
					return fail(err)
				}
				markPartData = i
				p.state = StatePartDataProceed
			}

		case StatePartDataNewlineHyphen:
			if c == '-' {
				p.state = StateNextBoundary
			} else {
				if err := p.emitLookbehindAndReplay(data, i-3, i); err != nil {
					return fail(err)
				}
				markPartData = i
				p.state = StatePartDataProceed
			}

		case StateNextBoundary:
			if p.boundaryIdx < len(p.boundary) {
				if c != p.boundary[p.boundaryIdx] {
					if err := p.emitLookbehindAndReplay(data, i-4-p.boundaryIdx, i); err != nil {
						return fail(err)
					}
					markPartData = i
					p.state = StatePartDataProceed
					continue
				}
				p.boundaryIdx++
				continue
			}
			if err := flushPartData(i - 4 - len(p.boundary)); err != nil {
				return fail(err)
			}
			if p.cb.OnPartDataEnd != nil {
				if err := p.cb.OnPartDataEnd(); err != nil {
					return fail(err)
				}
			}
			p.partBegun = false
			p.state = StatePartDataPossibleEnd

		case StatePartDataPossibleEnd:
			switch c {
			case '\r':
				p.state = StateHeaderFieldStart
			case '-':
				p.state = StateEntityPossibleEnd
			default:
				return fail(fmt.Errorf("multipart: unexpected byte after boundary"))
			}

		case StateEntityPossibleEnd:
			if c != '-' {
				return fail(fmt.Errorf("multipart: malformed closing boundary"))
			}
			p.state = StateEntityEnd

		case StateEntityEnd:
			if p.cb.OnBodyEnd != nil {
				if err := p.cb.OnBodyEnd(); err != nil {
					return fail(err)
				}
			}
			return i + 1, nil
		}
	}

	// End of chunk: flush any header/part-data bytes accumulated so far so
	// state resumes cleanly on the next Execute call.
	if err := flushHeaderField(len(data)); err != nil {
		return fail(err)
	}
	if err := flushHeaderValue(len(data)); err != nil {
		return fail(err)
	}
	if err := flushPartData(len(data)); err != nil {
		return fail(err)
	}

	return i, nil
}

// emitLookbehindAndReplay flushes the tentatively-buffered bytes between
// from and to (exclusive) to OnPartData, covering a boundary-match attempt
// that broke down before completion, per spec.md §4.2's look-behind rule.
func (p *Parser) emitLookbehindAndReplay(data []byte, from, to int) error {
	if from < 0 {
		from = 0
	}
	if p.cb.OnPartData == nil || to <= from {
		return nil
	}
	return p.cb.OnPartData(data[from:to])
}

func isLowerOrHyphen(c byte) bool {
	return (c >= 'a' && c <= 'z') || c == '-'
}
