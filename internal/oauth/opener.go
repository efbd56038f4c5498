package oauth

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// PrintOpener "opens" the window by printing the URL for the user to visit.
// The user cannot close a printed URL, so only a result, ctx or the timeout
// end the wait.
type PrintOpener struct {
	W io.Writer
}

func (o PrintOpener) Open(_ context.Context, url string) (Popup, error) {
	if _, err := fmt.Fprintf(o.W, "Open this URL in your browser to authorize:\n\n  %s\n\n", url); err != nil {
		return nil, err
	}
	log.Debug().Str("url", url).Msg("authorization url printed")
	return &detachedPopup{}, nil
}

type detachedPopup struct {
	closed atomic.Bool
}

func (p *detachedPopup) Closed() bool { return p.closed.Load() }

func (p *detachedPopup) Close() error {
	p.closed.Store(true)
	return nil
}
