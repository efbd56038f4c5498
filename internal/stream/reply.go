package stream

import (
	"slices"
	"strings"
)

// Reply is the folded state of a session: the assistant text so far, the
// transient tool status, and any error events seen.
type Reply struct {
	Text   string
	Status string
	Errors []string
}

// Accumulator folds events into a Reply in the order they are applied.
type Accumulator struct {
	text   strings.Builder
	status string
	errors []string
}

func (a *Accumulator) Apply(ev Event) {
	switch ev.Type {
	case EventText:
		a.text.WriteString(ev.Content)
		a.status = ""
	case EventToolStatus:
		a.status = ev.Content
	case EventError:
		a.errors = append(a.errors, ev.Message)
	}
}

func (a *Accumulator) Reply() Reply {
	return Reply{
		Text:   a.text.String(),
		Status: a.status,
		Errors: slices.Clone(a.errors),
	}
}
