package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, s *Server) (*websocket.Conn, *http.Response) {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn, resp
}

func TestWebSocketRunsOneCyclePerFrame(t *testing.T) {
	conn, resp := dial(t, newServer(t, nil))
	if len(resp.Cookies()) != 1 {
		t.Errorf("upgrade should issue a session cookie, got %v", resp.Cookies())
	}

	for i, listener := range []string{"click", "submit"} {
		ver := 1
		err := conn.WriteJSON(frame{ID: int64(i + 1), Page: 0, Version: &ver, Component: "form:save", Listener: listener})
		if err != nil {
			t.Fatal(err)
		}
		var out reply
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatal(err)
		}
		if out.ID != int64(i+1) || out.Status != http.StatusOK || out.Body != "listener="+listener {
			t.Errorf("reply = %+v", out)
		}
		if out.ContentType != "text/plain" {
			t.Errorf("content type = %q", out.ContentType)
		}
	}
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	conn, _ := dial(t, newServer(t, nil))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	var out reply
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", out.Status)
	}

	if err := conn.WriteJSON(frame{ID: 9, Component: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out.ID != 9 || out.Status != http.StatusBadRequest {
		t.Errorf("reply = %+v", out)
	}
}

func TestFrameRequestURL(t *testing.T) {
	ver := 5
	fr := frame{PageMap: "main", Page: 2, Version: &ver, Component: "a:b", Listener: "click",
		Params: map[string]string{"q": "shoes", "page": "99"}}
	req, err := fr.request()
	if err != nil {
		t.Fatal(err)
	}
	p := req.Params()
	if p.Get("page") != "2" || p.Get("version") != "5" || p.Get("q") != "shoes" || p.Get("component") != "a:b" {
		t.Errorf("params = %v", p)
	}
	if p.Has("merge") {
		t.Errorf("merge set without being asked: %v", p)
	}

	fr.Merge = true
	fr.Params = map[string]string{"merge": "0"}
	req, _ = fr.request()
	if got := req.Params().Get("merge"); got != "1" {
		t.Errorf("merge = %q, want 1", got)
	}
}

func TestFrameWithoutVersionAddressesLatest(t *testing.T) {
	var fr frame
	if err := json.Unmarshal([]byte(`{"id":1,"page":0,"component":"inc","listener":"click"}`), &fr); err != nil {
		t.Fatal(err)
	}
	if fr.Version != nil {
		t.Fatalf("version = %d, want unset", *fr.Version)
	}
	req, err := fr.request()
	if err != nil {
		t.Fatal(err)
	}
	if p := req.Params(); p.Has("version") {
		t.Errorf("params = %v, want no version", p)
	}

	if err := json.Unmarshal([]byte(`{"id":2,"page":0,"version":0,"component":"inc","listener":"click"}`), &fr); err != nil {
		t.Fatal(err)
	}
	req, _ = fr.request()
	if got := req.Params().Get("version"); got != "0" {
		t.Errorf("explicit version = %q, want 0", got)
	}
}
