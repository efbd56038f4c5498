package api

import (
	"net/http"
	"strings"
)

const (
	headerRequestID = "X-Request-Id"
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// requestHeaders builds the headers for one attempt. The Authorization
// header is present only when a token is held.
func requestHeaders(token, requestID, accept string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", contentTypeJSON)
	h.Set("Accept", accept)
	h.Set(headerRequestID, requestID)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), contentTypeSSE)
}
