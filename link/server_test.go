package link

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mdzio/go-dcp/handler"
	"github.com/mdzio/go-dcp/wire"
)

// test protocol of a small demo device

// increment command: replies directly with Arg+1
type incReq struct {
	ID  byte
	Arg uint16
}

func (incReq) FrameID() byte { return 0x01 }

type incRsp struct {
	ID    byte
	Value uint32
}

func (incRsp) FrameID() byte { return 0x01 }

// sum command: queries addends from the controller through a secondary
// request and replies with their sum and the request status
type sumReq struct {
	ID byte
}

func (sumReq) FrameID() byte { return 0x02 }

type sumRsp struct {
	ID     byte
	Status uint8
	Sum    uint16
}

func (sumRsp) FrameID() byte { return 0x02 }

type addendQry struct {
	ID byte
}

func (addendQry) FrameID() byte { return 0x10 }

type addendRsp struct {
	ID byte
	N  uint8
}

func (addendRsp) FrameID() byte { return 0x11 }

// quiet command: executes without any reply
type quietReq struct {
	ID byte
}

func (quietReq) FrameID() byte { return 0x04 }

// fail command: always fails to execute
type failReq struct {
	ID byte
}

func (failReq) FrameID() byte { return 0x0f }

func testHandler(t *testing.T) *handler.Handler {
	t.Helper()
	h, err := handler.New(
		handler.HandleFunc(func(in incReq, c handler.Communicator) ([][]byte, error) {
			b, err := wire.Marshal(incRsp{ID: in.ID, Value: uint32(in.Arg) + 1})
			if err != nil {
				return nil, err
			}
			return [][]byte{b}, nil
		}),
		handler.HandleFunc(func(in sumReq, c handler.Communicator) ([][]byte, error) {
			qry, err := wire.Marshal(addendQry{ID: 0x10})
			if err != nil {
				return nil, err
			}
			frames, status := handler.Collect(c, qry)
			var sum uint16
			for _, f := range frames {
				a, err := wire.Unmarshal[addendRsp](f)
				if err != nil {
					return nil, err
				}
				sum += uint16(a.N)
			}
			b, err := wire.Marshal(sumRsp{ID: in.ID, Status: uint8(status), Sum: sum})
			if err != nil {
				return nil, err
			}
			return [][]byte{b}, nil
		}),
		handler.HandleFunc(func(in quietReq, c handler.Communicator) ([][]byte, error) {
			return nil, nil
		}),
		handler.HandleFunc(func(in failReq, c handler.Communicator) ([][]byte, error) {
			return nil, errors.New("device defect")
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func mustSizes(t *testing.T, formats ...wire.Format) wire.SizeTable {
	t.Helper()
	st, err := wire.Sizes(formats...)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func startServer(t *testing.T, addr string) (*Server, chan error) {
	t.Helper()
	serr := make(chan error, 1)
	svr := &Server{
		Addr:        addr,
		Handler:     testHandler(t),
		ServeErr:    serr,
		ReplySizes:  mustSizes(t, addendRsp{}),
		ReplyWindow: 150 * time.Millisecond,
	}
	if err := svr.Start(); err != nil {
		t.Fatal(err)
	}
	return svr, serr
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestServerCall(t *testing.T) {
	addr := "127.0.0.1:2125"
	svr, serr := startServer(t, addr)
	defer svr.Stop()

	cln := &Client{
		Addr:        addr,
		ReplySizes:  mustSizes(t, incRsp{}, sumRsp{}),
		ReplyWindow: 150 * time.Millisecond,
	}

	// increment command: arg 0x00ff yields value 0x0100
	frames, err := cln.Call([]byte{0x01, 0xff, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(frames))
	}
	if want := []byte{0x01, 0x00, 0x01, 0x00, 0x00}; !bytes.Equal(frames[0], want) {
		t.Errorf("expected reply %x, got %x", want, frames[0])
	}

	// quiet command: no reply and no error
	frames, err = cln.Call([]byte{0x04})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Errorf("expected no reply frames, got %d", len(frames))
	}

	// failing command: the error stays on the device side
	frames, err = cln.Call([]byte{0x0f})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Errorf("expected no reply frames, got %d", len(frames))
	}

	// the server accepts further calls
	frames, err = cln.Call([]byte{0x01, 0x02, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{0x01, 0x03, 0x00, 0x00, 0x00}) {
		t.Errorf("unexpected reply frames: %x", frames)
	}

	// expect no serve error
	select {
	case err = <-serr:
	default:
		err = nil
	}
	if err != nil {
		t.Error(err)
	}
}

func TestServerKeepsConnectionOnDispatchError(t *testing.T) {
	addr := "127.0.0.1:2126"
	svr, _ := startServer(t, addr)
	defer svr.Stop()

	conn := dial(t, addr)
	defer conn.Close()

	// the failing command produces no reply, but the frame boundary is
	// intact and the connection must stay usable
	if _, err := conn.Write([]byte{0x0f}); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte{0x01, 0x02, 0x00}); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 5)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x01, 0x03, 0x00, 0x00, 0x00}; !bytes.Equal(reply, want) {
		t.Errorf("expected reply %x, got %x", want, reply)
	}
}

func TestServerClosesConnectionOnUnknownFrame(t *testing.T) {
	addr := "127.0.0.1:2127"
	svr, _ := startServer(t, addr)
	defer svr.Stop()

	conn := dial(t, addr)
	defer conn.Close()

	// an unknown identifier leaves the stream without frame boundaries
	if _, err := conn.Write([]byte{0x7f}); err != nil {
		t.Fatal(err)
	}
	var buf [1]byte
	if _, err := conn.Read(buf[:]); err != io.EOF {
		t.Errorf("expected connection close, got: %v", err)
	}
}

func TestServerSecondaryRequest(t *testing.T) {
	addr := "127.0.0.1:2128"
	svr, _ := startServer(t, addr)
	defer svr.Stop()

	conn := dial(t, addr)
	defer conn.Close()

	// trigger the sum command
	if _, err := conn.Write([]byte{0x02}); err != nil {
		t.Fatal(err)
	}
	// expect the secondary request of the command
	qry := make([]byte, 1)
	if _, err := io.ReadFull(conn, qry); err != nil {
		t.Fatal(err)
	}
	if qry[0] != 0x10 {
		t.Fatalf("expected addend query 0x10, got 0x%02x", qry[0])
	}
	// answer with two addends
	if _, err := conn.Write([]byte{0x11, 0x05}); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte{0x11, 0x07}); err != nil {
		t.Fatal(err)
	}
	// expect the direct reply with the sum after the reply window
	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x02, byte(handler.StatusSuccess), 0x0c, 0x00}
	if !bytes.Equal(reply, want) {
		t.Errorf("expected reply %x, got %x", want, reply)
	}
}

func TestServerSecondaryRequestTimeout(t *testing.T) {
	addr := "127.0.0.1:2129"
	svr, _ := startServer(t, addr)
	defer svr.Stop()

	conn := dial(t, addr)
	defer conn.Close()

	if _, err := conn.Write([]byte{0x02}); err != nil {
		t.Fatal(err)
	}
	qry := make([]byte, 1)
	if _, err := io.ReadFull(conn, qry); err != nil {
		t.Fatal(err)
	}
	// answer nothing: the command must see a timeout status
	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x02, byte(handler.StatusTimeout), 0x00, 0x00}
	if !bytes.Equal(reply, want) {
		t.Errorf("expected reply %x, got %x", want, reply)
	}
}

func TestServerIdleTimeout(t *testing.T) {
	addr := "127.0.0.1:2130"
	serr := make(chan error, 1)
	svr := &Server{
		Addr:        addr,
		Handler:     testHandler(t),
		ServeErr:    serr,
		IdleTimeout: 100 * time.Millisecond,
	}
	if err := svr.Start(); err != nil {
		t.Fatal(err)
	}
	defer svr.Stop()

	conn := dial(t, addr)
	defer conn.Close()

	// an idle connection is closed by the server
	var buf [1]byte
	if _, err := conn.Read(buf[:]); err != io.EOF {
		t.Errorf("expected connection close, got: %v", err)
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	addr := "127.0.0.1:2131"
	svr, _ := startServer(t, addr)

	conn := dial(t, addr)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		svr.Stop()
		close(done)
	}()

	var buf [1]byte
	if _, err := conn.Read(buf[:]); err == nil {
		t.Error("expected connection close")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
