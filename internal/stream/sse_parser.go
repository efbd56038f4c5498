package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

const dataPrefix = "data:"

// Decoder turns raw stream chunks into events. It keeps only the trailing,
// not yet terminated frame between calls, so the result is independent of
// how the transport fragments the byte stream.
type Decoder struct {
	buffer     []byte
	eventIndex int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and decodes every complete frame. CRLF
// line endings are folded to LF; a trailing CR waits for the next chunk.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buffer = append(d.buffer, chunk...)
	if bytes.Contains(d.buffer, crlf) {
		d.buffer = bytes.ReplaceAll(d.buffer, crlf, lf)
	}
	var events []Event

	for {
		idx := bytes.Index(d.buffer, frameDelimiter)
		if idx == -1 {
			break
		}
		frame := string(d.buffer[:idx])
		d.buffer = d.buffer[idx+len(frameDelimiter):]
		events = d.decodeFrame(frame, events)
	}

	if len(d.buffer) == 0 {
		d.buffer = nil
	}
	return events
}

// Finish decodes a final frame the server did not terminate.
func (d *Decoder) Finish() []Event {
	frame := string(d.buffer)
	d.buffer = nil
	if strings.TrimSpace(frame) == "" {
		return nil
	}
	return d.decodeFrame(frame, nil)
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

func (d *Decoder) decodeFrame(frame string, events []Event) []Event {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(line[len(dataPrefix):])
		if data == "" {
			continue
		}

		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("skipping malformed stream payload")
			continue
		}

		ev, ok := d.toEvent(p)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (d *Decoder) toEvent(p payload) (Event, bool) {
	var ev Event
	switch EventType(p.Type) {
	case EventText:
		ev = Event{Type: EventText, Content: p.Content}
	case EventToolStatus:
		ev = Event{Type: EventToolStatus, Content: p.Content}
	case EventError:
		msg := p.Error
		if msg == "" {
			msg = p.Content
		}
		ev = Event{Type: EventError, Message: msg}
	default:
		log.Debug().Str("type", p.Type).Msg("ignoring unknown stream event type")
		return Event{}, false
	}
	d.eventIndex++
	ev.Index = d.eventIndex
	return ev, true
}
