package spibridge

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

const (
	// DefaultFrameSize is the size in bytes of a full frame.
	DefaultFrameSize = 7868

	// DefaultMaxSpeed is the SPI clock used when Opts.MaxSpeed is unset.
	DefaultMaxSpeed = 300 * physic.KiloHertz

	// DefaultBits is the word size used when Opts.Bits is unset.
	DefaultBits = 8
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("spibridge: closed")

// Opts is the configuration for the SPI bus.
type Opts struct {
	MaxSpeed physic.Frequency // Clock speed (default: 300kHz)
	Mode     spi.Mode         // Clock polarity and phase (default: Mode0)
	Bits     int              // Word size (default: 8)
}

func (o *Opts) withDefaults() Opts {
	var out Opts
	if o != nil {
		out = *o
	}
	if out.MaxSpeed == 0 {
		out.MaxSpeed = DefaultMaxSpeed
	}
	if out.Bits == 0 {
		out.Bits = DefaultBits
	}
	return out
}

// Dev is the handle for an opened SPI bus.
type Dev struct {
	// Communication
	c    conn.Conn // SPI connection
	w    io.Writer // Single-write path to c
	port io.Closer // Port c was connected on, nil if not owned

	name string
	opts Opts

	// Only one holder may touch c at a time.
	sem *semaphore.Weighted

	writes atomic.Uint64
	closed atomic.Bool

	logger golog.Logger
}

// Open opens the spidev device at path and configures it with opts.
//
// periph.io host drivers must already be initialised (host.Init) so the
// device is registered with spireg. opts can be nil to use defaults.
func Open(path string, opts *Opts, logger golog.Logger) (*Dev, error) {
	o := opts.withDefaults()
	if o.MaxSpeed < 0 || o.Bits < 0 {
		return nil, &ConfigureError{Path: path, Opts: o, Err: errors.New("speed and word size must be positive")}
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	logger.Infow("opening SPI bus", "path", resolved)

	p, err := spireg.Open(resolved)
	if err != nil {
		return nil, &OpenError{Path: resolved, Err: err}
	}

	c, err := p.Connect(o.MaxSpeed, o.Mode, o.Bits)
	if err != nil {
		return nil, &ConfigureError{Path: resolved, Opts: o, Err: multierr.Combine(err, p.Close())}
	}

	d := newDev(c, p, resolved, o, logger)
	logger.Infow("configured SPI bus", "path", resolved, "speed", o.MaxSpeed.String(), "bits", o.Bits, "mode", o.Mode.String())
	return d, nil
}

// New wraps an already connected SPI transport. The caller keeps ownership
// of the port c was connected on.
func New(c conn.Conn, opts *Opts, logger golog.Logger) *Dev {
	return newDev(c, nil, c.String(), opts.withDefaults(), logger)
}

func newDev(c conn.Conn, port io.Closer, name string, o Opts, logger golog.Logger) *Dev {
	w, ok := c.(io.Writer)
	if !ok {
		w = txWriter{c}
	}
	return &Dev{
		c:      c,
		w:      w,
		port:   port,
		name:   name,
		opts:   o,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

// Write writes frame to the bus in a single transfer and returns the number
// of bytes the driver reports as transferred.
//
// Waiting for exclusive access honours ctx. Once access is granted the
// transfer is never aborted, even if ctx is cancelled meanwhile. Short
// writes are returned as is.
func (d *Dev) Write(ctx context.Context, frame []byte) (int, error) {
	ctx, span := trace.StartSpan(ctx, "spibridge::Dev::Write")
	defer span.End()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return 0, errors.Wrap(err, "spibridge: waiting for bus")
	}
	defer d.sem.Release(1)

	if d.closed.Load() {
		return 0, ErrClosed
	}

	d.logger.Debugw("writing to SPI", "bytes", len(frame))
	d.writes.Inc()
	n, err := d.w.Write(frame)
	if err != nil {
		return n, &WriteError{Written: n, Err: err}
	}
	return n, nil
}

// Writes returns the number of physical writes issued so far.
func (d *Dev) Writes() uint64 {
	return d.writes.Load()
}

// MaxTxSize returns the largest single transfer the driver accepts, or 0 if
// the connection does not report a limit.
func (d *Dev) MaxTxSize() int {
	if l, ok := d.c.(conn.Limits); ok {
		return l.MaxTxSize()
	}
	return 0
}

// Close waits for any in-flight write, then releases the port.
// Subsequent writes fail with ErrClosed.
func (d *Dev) Close() error {
	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	if d.closed.Swap(true) || d.port == nil {
		return nil
	}
	return d.port.Close()
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("spibridge.Dev{%s, %s}", d.name, d.opts.MaxSpeed)
}

// txWriter adapts connections that only offer Tx.
type txWriter struct {
	c conn.Conn
}

func (t txWriter) Write(b []byte) (int, error) {
	if err := t.c.Tx(b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}
