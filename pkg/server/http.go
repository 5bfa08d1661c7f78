package server

import (
	"net/http"
	"net/url"
)

// httpRequest adapts an *http.Request to cycle.Request.
type httpRequest struct {
	r      *http.Request
	params url.Values
}

func newHTTPRequest(r *http.Request) *httpRequest {
	// Form merges the query with a urlencoded POST body. A malformed body
	// leaves the query parameters.
	if err := r.ParseForm(); err != nil {
		return &httpRequest{r: r, params: r.URL.Query()}
	}
	return &httpRequest{r: r, params: r.Form}
}

func (h *httpRequest) Method() string     { return h.r.Method }
func (h *httpRequest) URL() *url.URL      { return h.r.URL }
func (h *httpRequest) Params() url.Values { return h.params }

// httpResponse adapts an http.ResponseWriter to cycle.Response. The status
// is written with the first body byte.
type httpResponse struct {
	w      http.ResponseWriter
	r      *http.Request
	status int
	wrote  bool
}

func (h *httpResponse) SetContentType(contentType string) {
	h.w.Header().Set("Content-Type", contentType)
}

func (h *httpResponse) SetStatus(code int) {
	h.status = code
}

func (h *httpResponse) Redirect(location string) {
	code := http.StatusFound
	if h.r.Method == http.MethodPost {
		code = http.StatusSeeOther
	}
	http.Redirect(h.w, h.r, location, code)
	h.wrote = true
}

func (h *httpResponse) Write(p []byte) (int, error) {
	h.writeHeader()
	return h.w.Write(p)
}

func (h *httpResponse) writeHeader() {
	if h.wrote {
		return
	}
	h.wrote = true
	if h.status == 0 {
		h.status = http.StatusOK
	}
	h.w.WriteHeader(h.status)
}
