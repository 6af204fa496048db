package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// callbackServer is the short-lived localhost listener that receives the
// authorization redirect. It accepts exactly one callback and rejects
// responses whose state value does not match the one issued for this flow.
type callbackServer struct {
	addr  string
	path  string
	state string

	srv    *http.Server
	result chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

func newCallbackServer(addr, path, state string) *callbackServer {
	return &callbackServer{
		addr:   addr,
		path:   path,
		state:  state,
		result: make(chan callbackResult, 1),
	}
}

func (c *callbackServer) start() error {
	router := mux.NewRouter()
	router.HandleFunc(c.path, c.handle).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", c.addr)
	}

	c.srv = &http.Server{Handler: router}
	go func() {
		if serveErr := c.srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			c.deliver(callbackResult{err: serveErr})
		}
	}()
	return nil
}

func (c *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		c.deliver(callbackResult{err: errors.Errorf("authorization denied: %s %s", errParam, desc)})
		writeCallbackPage(w, http.StatusBadRequest, "Authorization failed. You can close this window.")
		return
	}

	if q.Get("state") != c.state {
		c.deliver(callbackResult{err: errors.New("state parameter mismatch, possible CSRF")})
		writeCallbackPage(w, http.StatusBadRequest, "Authorization failed: state mismatch.")
		return
	}

	code := q.Get("code")
	if code == "" {
		c.deliver(callbackResult{err: errors.New("callback missing authorization code")})
		writeCallbackPage(w, http.StatusBadRequest, "Authorization failed: missing code.")
		return
	}

	c.deliver(callbackResult{code: code})
	writeCallbackPage(w, http.StatusOK, "Authorization complete. You can close this window.")
}

// deliver records the first outcome; later callbacks are ignored.
func (c *callbackServer) deliver(res callbackResult) {
	select {
	case c.result <- res:
	default:
	}
}

func (c *callbackServer) wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-c.result:
		return res.code, res.err
	}
}

func (c *callbackServer) stop(ctx context.Context) {
	if c.srv != nil {
		_ = c.srv.Shutdown(ctx)
	}
}

func writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", message)
}
