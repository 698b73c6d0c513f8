package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// TimeoutConfig bounds how long a request may run.
type TimeoutConfig struct {
	Timeout time.Duration
	// Skip exempts a request from the deadline. Nil exempts nothing.
	Skip func(c echo.Context) bool
}

// SkipPrefixes exempts requests whose path starts with any prefix.
func SkipPrefixes(prefixes ...string) func(echo.Context) bool {
	return func(c echo.Context) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Request().URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// bufferedWriter holds a handler's response until the middleware decides
// whether it reaches the client.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header         { return w.header }
func (w *bufferedWriter) Write(p []byte) (int, error) { return w.body.Write(p) }
func (w *bufferedWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
}

// RequestTimeout puts a deadline on the request context and runs the handler
// against a buffered writer. If the handler finishes first its response is
// copied out; otherwise a 504 is sent and whatever the handler writes later
// is discarded. The middleware always waits for the handler to return, so the
// echo context is never recycled while the handler still holds it.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Timeout <= 0 || (cfg.Skip != nil && cfg.Skip(c)) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			rid := GetRequestID(c)
			res := c.Response()
			orig := res.Writer
			buf := &bufferedWriter{header: http.Header{}}
			res.Writer = buf

			type result struct {
				err   error
				panic any
			}
			done := make(chan result, 1)
			go func() {
				var r result
				defer func() {
					r.panic = recover()
					done <- r
				}()
				r.err = next(c)
			}()

			select {
			case r := <-done:
				res.Writer = orig
				if r.panic != nil {
					panic(r.panic)
				}
				if !res.Committed {
					if errors.Is(r.err, context.DeadlineExceeded) {
						return writeTimeout(c, rid)
					}
					return r.err
				}
				for k, v := range buf.header {
					orig.Header()[k] = v
				}
				orig.WriteHeader(res.Status)
				_, werr := orig.Write(buf.body.Bytes())
				if r.err != nil {
					return r.err
				}
				return werr

			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					sendTimeout(orig, rid)
				}
				r := <-done
				res.Writer = orig
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					res.Committed = true
					res.Status = http.StatusGatewayTimeout
				}
				if r.panic != nil {
					panic(r.panic)
				}
				if res.Committed {
					return nil
				}
				return ctx.Err()
			}
		}
	}
}

func timeoutBody(rid string) map[string]string {
	return map[string]string{
		"message":    "request exceeded the allowed time",
		"request_id": rid,
	}
}

func writeTimeout(c echo.Context, rid string) error {
	return c.JSON(http.StatusGatewayTimeout, timeoutBody(rid))
}

// sendTimeout writes the 504 straight to the client while the handler is
// still running against its own buffer.
func sendTimeout(w http.ResponseWriter, rid string) {
	body, _ := json.Marshal(timeoutBody(rid))
	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w.WriteHeader(http.StatusGatewayTimeout)
	w.Write(body)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
