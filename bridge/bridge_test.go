package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"periph.io/x/conn/v3"

	"github.com/flavioheleno/spibridge"
)

// fakeConn is an SPI connection reporting a fixed number of written bytes.
type fakeConn struct {
	written int // if > 0, reported instead of len(b)
	err     error
	frames  [][]byte
}

func (f *fakeConn) String() string      { return "fake" }
func (f *fakeConn) Duplex() conn.Duplex { return conn.Half }

func (f *fakeConn) Tx(w, r []byte) error {
	_, err := f.Write(w)
	return err
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.frames = append(f.frames, append([]byte(nil), b...))
	if f.err != nil {
		return 0, f.err
	}
	if f.written > 0 {
		return f.written, nil
	}
	return len(b), nil
}

func newTestEndpoint(t *testing.T, c *fakeConn, frameSize int) (*Endpoint, *spibridge.Dev) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	dev := spibridge.New(c, nil, logger)
	return NewEndpoint(dev, frameSize, logger), dev
}

func TestSubmitWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 5, 7, 9, 64} {
		c := &fakeConn{}
		e, dev := newTestEndpoint(t, c, 8)

		res := e.Submit(context.Background(), make([]byte, n))
		test.That(t, res.OK, test.ShouldBeFalse)
		test.That(t, res.Reason, test.ShouldEqual, "raw_data is not 8 bytes long")
		test.That(t, dev.Writes(), test.ShouldEqual, uint64(0))
		test.That(t, c.frames, test.ShouldBeEmpty)
	}
}

func TestSubmit(t *testing.T) {
	c := &fakeConn{}
	e, dev := newTestEndpoint(t, c, 8)

	frame := []byte{0, 1, 2, 3, 4, 5, 6, 255}
	res := e.Submit(context.Background(), frame)
	test.That(t, res, test.ShouldResemble, Result{OK: true, BytesWritten: 8})
	test.That(t, dev.Writes(), test.ShouldEqual, uint64(1))
	test.That(t, c.frames, test.ShouldResemble, [][]byte{frame})
	test.That(t, e.FrameSize(), test.ShouldEqual, 8)
}

func TestSubmitReportsDeviceCount(t *testing.T) {
	c := &fakeConn{written: 6}
	e, _ := newTestEndpoint(t, c, 8)

	res := e.Submit(context.Background(), make([]byte, 8))
	test.That(t, res.OK, test.ShouldBeTrue)
	test.That(t, res.BytesWritten, test.ShouldEqual, 6)
}

func TestSubmitWriteError(t *testing.T) {
	c := &fakeConn{err: errors.New("message too long")}
	e, dev := newTestEndpoint(t, c, 8)

	res := e.Submit(context.Background(), make([]byte, 8))
	test.That(t, res.OK, test.ShouldBeFalse)
	test.That(t, res.Reason, test.ShouldEqual, "spibridge: failed to write data to SPI bus: message too long")
	test.That(t, dev.Writes(), test.ShouldEqual, uint64(1))

	// The endpoint keeps serving after a failed write.
	c.err = nil
	res = e.Submit(context.Background(), make([]byte, 8))
	test.That(t, res.OK, test.ShouldBeTrue)
}

func TestResultJSON(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"ok", Success(7868), `{"status":"ok","bytes_written":7868}`},
		{"ok zero", Success(0), `{"status":"ok","bytes_written":0}`},
		{"error", Failure("raw_data is not 8 bytes long"), `{"status":"error","reason":"raw_data is not 8 bytes long"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.res)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, string(got), test.ShouldEqual, tt.want)
		})
	}
}
