package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func upgrade(t *testing.T, w http.ResponseWriter, r *http.Request) *websocket.Conn {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		t.Errorf("upgrade: %v", err)
		return nil
	}
	return c
}

func TestWebSocketDialer_ReadWriteClose(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := upgrade(t, w, r)
		if c == nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"op":10,"d":{"heartbeat_interval":1000}}`))
		_ = c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		msg := websocket.FormatCloseMessage(4004, "authentication failed")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer(Options{WriteTimeout: time.Second}).Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	f, err := conn.ReadFrame()
	if err != nil || f.Kind != FrameText {
		t.Fatalf("expect text frame, got %v err=%v", f.Kind, err)
	}
	if !strings.Contains(string(f.Data), "heartbeat_interval") {
		t.Fatalf("unexpected text frame: %s", f.Data)
	}

	f, err = conn.ReadFrame()
	if err != nil || f.Kind != FrameBinary {
		t.Fatalf("expect binary frame, got %v err=%v", f.Kind, err)
	}

	if err := conn.WriteText(context.Background(), []byte(`{"op":1,"d":null}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-received:
		if got != `{"op":1,"d":null}` {
			t.Fatalf("server got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	f, err = conn.ReadFrame()
	if err != nil {
		t.Fatalf("read close: %v", err)
	}
	if f.Kind != FrameClose || f.CloseCode != 4004 || f.Reason != "authentication failed" {
		t.Fatalf("unexpected close frame: %+v", f)
	}
}

func TestWebSocketConn_CloseSendsCode(t *testing.T) {
	codes := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := upgrade(t, w, r)
		if c == nil {
			return
		}
		defer c.Close()
		_, _, err := c.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			codes <- ce.Code
		}
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer(Options{}).Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Close(CloseResume, "resume"); err != nil {
		t.Fatalf("close: %v", err)
	}
	// 重复关闭是安全的
	_ = conn.Close(CloseNormal, "")

	select {
	case code := <-codes:
		if code != CloseResume {
			t.Fatalf("expect %d, got %d", CloseResume, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see the close frame")
	}

	if err := conn.WriteText(context.Background(), []byte("x")); !errors.Is(err, ErrSocketClosed) {
		t.Fatalf("expect ErrSocketClosed after close, got %v", err)
	}
}

func TestWebSocketDialer_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebSocketDialer(Options{}).Dial(context.Background(), wsURL(srv))
	if !errors.Is(err, ErrDial) {
		t.Fatalf("expect ErrDial, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expect status in error context, got %v", err)
	}
}

func TestWebSocketConn_ReadDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := upgrade(t, w, r)
		if c == nil {
			return
		}
		defer c.Close()
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer(Options{}).Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := conn.ReadFrame(); !errors.Is(err, ErrRead) {
		t.Fatalf("expect ErrRead on deadline, got %v", err)
	}
}

func TestTpError(t *testing.T) {
	cause := errors.New("boom")
	err := wrap(ErrWrite, "conn-1", cause)
	if !errors.Is(err, ErrWrite) || errors.Is(err, ErrRead) {
		t.Fatalf("code matching broken: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped: %v", err)
	}
	if err.Error() != "Error 1003: Write failed (context: conn-1): boom" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestWebSocketConn_WriteDeadlineUnblocksStalledPeer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := upgrade(t, w, r)
		if c == nil {
			return
		}
		defer c.Close()
		// 不读，让客户端写满 TCP 缓冲
		<-release
	}))
	defer srv.Close()
	defer close(release)

	conn, err := NewWebSocketDialer(Options{}).Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = 'a'
	}
	writeErr := make(chan error, 1)
	go func() {
		for i := 0; i < 512; i++ {
			if err := conn.WriteText(context.Background(), payload); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- nil
	}()

	time.Sleep(300 * time.Millisecond)
	if err := conn.SetWriteDeadline(time.Now()); err != nil {
		t.Fatalf("set write deadline: %v", err)
	}
	select {
	case err := <-writeErr:
		if !errors.Is(err, ErrWrite) {
			t.Fatalf("expect ErrWrite, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked write ignored the write deadline")
	}

	_ = conn.SetWriteDeadline(time.Time{})
	closed := make(chan struct{})
	go func() {
		_ = conn.Close(CloseNormal, "")
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close hung on a stalled peer")
	}
}
