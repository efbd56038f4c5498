package oauth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// CallbackPath is where the backend sends the popup once the provider
// flow finishes.
const CallbackPath = "/oauth/callback"

const callbackPage = `<!doctype html>
<html><body><p>%s</p><p>You can close this window.</p></body></html>
`

// CallbackHandler turns the popup's final redirect into a Message for b.
// The query carries correlation_id, status (success or error) and error.
func CallbackHandler(b *Bridge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		msg := Message{
			Origin:        requestOrigin(r),
			CorrelationID: q.Get(CorrelationParam),
			Error:         q.Get("error"),
		}
		switch strings.ToLower(q.Get("status")) {
		case "success":
			msg.Type = MessageSuccess
		default:
			msg.Type = MessageError
		}

		if !b.Post(msg) {
			log.Warn().Str("correlation_id", msg.CorrelationID).Msg("no authorization waiting for callback")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusGone)
			fmt.Fprintf(w, callbackPage, "This authorization request is no longer active.")
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if msg.Type == MessageSuccess {
			fmt.Fprintf(w, callbackPage, "Authorization complete.")
			return
		}
		fmt.Fprintf(w, callbackPage, "Authorization failed.")
	})
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
