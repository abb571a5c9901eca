package server

import (
	"net/http"
	"net/netip"
	"net/url"

	"github.com/developingchet/view-count/internal/identity"
)

// Request is the read side of a badge request, independent of the transport
// in front of it.
type Request interface {
	Header(name string) string
	ClientAddress() string // "" when unknown
	Query(name string) string
}

// Response is the write side of a badge request. SetStatus and SetHeader
// must be called before Write.
type Response interface {
	SetStatus(code int)
	SetHeader(name, value string)
	Write(body []byte) error
}

// httpExchange adapts net/http to Request and Response.
type httpExchange struct {
	w       http.ResponseWriter
	r       *http.Request
	query   url.Values
	trusted []netip.Prefix
	status  int
}

var (
	_ Request  = (*httpExchange)(nil)
	_ Response = (*httpExchange)(nil)
)

func newHTTPExchange(w http.ResponseWriter, r *http.Request, trusted []netip.Prefix) *httpExchange {
	return &httpExchange{
		w:       w,
		r:       r,
		query:   r.URL.Query(),
		trusted: trusted,
		status:  http.StatusOK,
	}
}

func (e *httpExchange) Header(name string) string { return e.r.Header.Get(name) }

func (e *httpExchange) Query(name string) string { return e.query.Get(name) }

// ClientAddress returns the socket peer, or the forwarded client when the
// peer is a trusted proxy.
func (e *httpExchange) ClientAddress() string {
	return identity.ClientIP(
		e.r.RemoteAddr,
		e.r.Header.Get("X-Forwarded-For"),
		e.r.Header.Get("X-Real-IP"),
		e.trusted,
	)
}

func (e *httpExchange) SetStatus(code int) { e.status = code }

func (e *httpExchange) SetHeader(name, value string) { e.w.Header().Set(name, value) }

func (e *httpExchange) Write(body []byte) error {
	e.w.WriteHeader(e.status)
	if e.r.Method == http.MethodHead {
		return nil
	}
	_, err := e.w.Write(body)
	return err
}
