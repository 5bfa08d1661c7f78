package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pagecycle/pkg/session"
	"github.com/vango-dev/pagecycle/pkg/target"
)

const writeWait = 10 * time.Second

// frame is an inbound listener invocation. A frame without a version
// addresses the page's latest version.
type frame struct {
	ID        int64             `json:"id"`
	PageMap   string            `json:"pagemap,omitempty"`
	Page      int               `json:"page"`
	Version   *int              `json:"version,omitempty"`
	Component string            `json:"component"`
	Listener  string            `json:"listener"`
	Merge     bool              `json:"merge,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// reply answers one frame.
type reply struct {
	ID          int64  `json:"id"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body,omitempty"`
	Redirect    string `json:"redirect,omitempty"`
	Error       string `json:"error,omitempty"`
}

// frameRequest adapts a frame to cycle.Request.
type frameRequest struct {
	u *url.URL
}

func (f *frameRequest) Method() string     { return http.MethodPost }
func (f *frameRequest) URL() *url.URL      { return f.u }
func (f *frameRequest) Params() url.Values { return f.u.Query() }

// frameResponse collects a cycle's output for a reply.
type frameResponse struct {
	body        bytes.Buffer
	contentType string
	status      int
	location    string
}

func (f *frameResponse) Write(p []byte) (int, error) { return f.body.Write(p) }
func (f *frameResponse) SetContentType(ct string)    { f.contentType = ct }
func (f *frameResponse) SetStatus(code int)          { f.status = code }
func (f *frameResponse) Redirect(location string)    { f.location = location }

func (fr *frame) request() (*frameRequest, error) {
	if fr.Component == "" || fr.Listener == "" {
		return nil, fmt.Errorf("%w: component and listener are required", ErrInvalidFrame)
	}
	ver := 0
	if fr.Version != nil {
		ver = *fr.Version
	}
	u, err := url.Parse(target.ListenerURL(fr.PageMap, fr.Page, ver, fr.Component, fr.Listener))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	q := u.Query()
	if fr.Version == nil {
		q.Del(target.ParamVersion)
	}
	if fr.Merge {
		q.Set(target.ParamMerge, "1")
	}
	for k, v := range fr.Params {
		if q.Has(k) {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return &frameRequest{u: u}, nil
}

// HandleWebSocket upgrades the connection and runs one request cycle per
// inbound frame until the client disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, cookie, err := s.session(r)
	if err != nil {
		s.logger.Error("session lookup failed", "error", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	header := http.Header{}
	if cookie != nil {
		header.Add("Set-Cookie", cookie.String())
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "client", s.clientIP(r))
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	conn.SetReadLimit(s.config.MaxFrameSize)
	logger := s.logger.With("session", sess.ID(), "client", s.clientIP(r))
	logger.Debug("websocket connected")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.FrameTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logger.Error("read error", "error", err)
			}
			return
		}

		out := s.runFrame(r.Context(), sess, msg)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(out); err != nil {
			logger.Warn("write error", "error", err)
			return
		}
	}
}

func (s *Server) runFrame(ctx context.Context, sess *session.Session, msg []byte) reply {
	var fr frame
	if err := json.Unmarshal(msg, &fr); err != nil {
		return reply{Status: http.StatusBadRequest, Error: ErrInvalidFrame.Error()}
	}
	req, err := fr.request()
	if err != nil {
		return reply{ID: fr.ID, Status: http.StatusBadRequest, Error: err.Error()}
	}

	resp := &frameResponse{}
	if err := s.cycles.Serve(ctx, req, resp, sess); err != nil {
		s.logger.Error("frame failed", "error", &FrameError{SessionID: sess.ID(), FrameID: fr.ID, Err: err})
		return reply{ID: fr.ID, Status: http.StatusInternalServerError, Error: http.StatusText(http.StatusInternalServerError)}
	}

	out := reply{
		ID:          fr.ID,
		Status:      resp.status,
		ContentType: resp.contentType,
		Body:        resp.body.String(),
		Redirect:    resp.location,
	}
	if out.Status == 0 {
		out.Status = http.StatusOK
	}
	return out
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(writeWait)
}
