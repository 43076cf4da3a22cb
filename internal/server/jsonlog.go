// jsonlog.go - Routes net/http's internal error log into zerolog
package server

import (
	"log"
	"strings"

	"github.com/rs/zerolog"
)

// httpErrorWriter turns each line net/http logs (TLS handshake errors,
// panics in handlers, bad requests) into a structured warning.
type httpErrorWriter struct {
	logger zerolog.Logger
}

func (w httpErrorWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// newHTTPErrorLog returns the *log.Logger http.Server insists on, backed by
// the service logger.
func newHTTPErrorLog(logger zerolog.Logger) *log.Logger {
	return log.New(httpErrorWriter{logger: logger.With().Str("component", "http").Logger()}, "", 0)
}
