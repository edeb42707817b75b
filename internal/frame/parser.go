// Package frame extracts complete protocol frames from the raw transport
// stream. SSE input arrives as arbitrary text chunks and is reassembled
// across chunk boundaries; WebSocket input arrives one JSON document per
// text frame and needs no buffering.
package frame

import (
	"strings"
)

// Frame is one complete protocol unit: the event type plus its raw JSON
// payload. Frames are ephemeral, produced and consumed within one parse
// pass and never stored.
type Frame struct {
	EventType string
	Payload   string
}

// ErrorFunc receives diagnostics for input that could not be parsed. The raw
// text is included so callers can log it; parsing always continues.
type ErrorFunc func(err error, raw string)

// Parser incrementally parses an SSE byte stream. Feed may be called with
// chunks split at arbitrary byte boundaries; a trailing partial line is
// retained until the next call. Parser is not safe for concurrent use.
type Parser struct {
	onError ErrorFunc

	partial   string
	eventType string
	dataLines []string
	sawField  bool
}

// NewParser returns a parser for SSE-framed input. onError may be nil.
func NewParser(onError ErrorFunc) *Parser {
	return &Parser{onError: onError}
}

// Feed consumes the next chunk of decoded stream text and returns zero or
// more complete frames.
func (p *Parser) Feed(chunk string) []Frame {
	var frames []Frame

	s := p.partial + chunk
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(s[:i], "\r")
		s = s[i+1:]
		if f, ok := p.processLine(line); ok {
			frames = append(frames, f)
		}
	}
	p.partial = s

	return frames
}

// Flush terminates the stream, emitting any frame still buffered when the
// input ended without a final blank line. The parser is reusable afterwards.
func (p *Parser) Flush() []Frame {
	var frames []Frame

	if p.partial != "" {
		line := strings.TrimSuffix(p.partial, "\r")
		p.partial = ""
		if f, ok := p.processLine(line); ok {
			frames = append(frames, f)
		}
	}
	if f, ok := p.endFrame(); ok {
		frames = append(frames, f)
	}

	return frames
}

// processLine handles one complete line. A blank line terminates the current
// frame; returns the finished frame when one is produced.
func (p *Parser) processLine(line string) (Frame, bool) {
	if line == "" {
		return p.endFrame()
	}
	if strings.HasPrefix(line, ":") {
		return Frame{}, false // comment
	}

	field, value, found := strings.Cut(line, ":")
	if !found {
		// A field name with no value; the protocol never sends these, so
		// surface it for diagnostics and move on.
		p.reportError(errNoFieldValue, line)
		return Frame{}, false
	}
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		p.eventType = value
		p.sawField = true
	case "data":
		p.dataLines = append(p.dataLines, value)
		p.sawField = true
	default:
		// id:, retry:, and anything future are ignored per SSE semantics.
	}

	return Frame{}, false
}

// endFrame closes the in-progress frame, joining multi-line data with \n.
func (p *Parser) endFrame() (Frame, bool) {
	if !p.sawField {
		return Frame{}, false
	}
	f := Frame{
		EventType: p.eventType,
		Payload:   strings.Join(p.dataLines, "\n"),
	}
	p.eventType = ""
	p.dataLines = nil
	p.sawField = false
	return f, true
}

func (p *Parser) reportError(err error, raw string) {
	if p.onError != nil {
		p.onError(err, raw)
	}
}
