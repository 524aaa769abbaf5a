// Package server implements the entry point for running the SPI bridge.
package server

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/flavioheleno/spibridge"
	"github.com/flavioheleno/spibridge/bridge"
	"github.com/flavioheleno/spibridge/bufsiz"
)

const shutdownTimeout = 10 * time.Second

// Arguments for the command.
type Arguments struct {
	Device     string `flag:"device,default=/dev/spidev0.0,usage=SPI device path"`
	Addr       string `flag:"addr,default=127.0.0.1:8000,usage=address to serve on"`
	Speed      int    `flag:"speed,default=300000,usage=SPI clock speed in Hz"`
	FrameSize  int    `flag:"frame-size,default=7868,usage=frame size in bytes"`
	Module     string `flag:"module,default=spidev,usage=kernel module providing the SPI device"`
	SkipBufsiz bool   `flag:"skip-bufsiz,usage=do not check or adjust the module bufsiz parameter"`
	CORS       bool   `flag:"cors,usage=allow cross-origin requests"`
	Debug      bool   `flag:"debug"`
}

// Validate checks the parsed arguments.
func (a Arguments) Validate() error {
	if a.Device == "" {
		return errors.New("device must be set")
	}
	if a.Speed <= 0 {
		return errors.Errorf("speed must be positive, got %d", a.Speed)
	}
	// bufsiz is an unsigned 16 bit parameter.
	if a.FrameSize <= 0 || a.FrameSize > math.MaxUint16 {
		return errors.Errorf("frame-size must be between 1 and %d, got %d", math.MaxUint16, a.FrameSize)
	}
	return nil
}

// busOpener opens the SPI bus once the driver is configured.
type busOpener func(path string, opts *spibridge.Opts, logger golog.Logger) (*spibridge.Dev, error)

// openPeriphBus registers the periph.io host drivers, then opens the bus.
// The sysfs SPI driver reads bufsiz when it registers, so this must only run
// after the buffer size is settled.
func openPeriphBus(path string, opts *spibridge.Opts, logger golog.Logger) (*spibridge.Dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph.io")
	}
	return spibridge.Open(path, opts, logger)
}

// RunServer is an entry point to starting the bridge that can be called by
// main.
func RunServer(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("spibridge")
	}
	if err := argsParsed.Validate(); err != nil {
		return err
	}
	logger.Infow("starting", "device", argsParsed.Device, "addr", argsParsed.Addr, "frame_size", argsParsed.FrameSize)

	ctrl := bufsiz.NewController(logger.Named("bufsiz"), bufsiz.WithModule(argsParsed.Module))
	endpoint, dev, err := setup(ctx, argsParsed, ctrl, openPeriphBus, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, dev.Close())
	}()

	ln, err := net.Listen("tcp", argsParsed.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", argsParsed.Addr)
	}

	handler := http.Handler(bridge.NewHandler(endpoint, logger.Named("http")))
	if argsParsed.CORS {
		handler = cors.AllowAll().Handler(handler)
	}

	utils.ContextMainReadyFunc(ctx)()
	err = serve(ctx, ln, handler, logger)
	logger.Info("exiting")
	return err
}

// setup reconciles the driver buffer size, then opens the bus. Nothing is
// opened if reconciliation fails.
func setup(
	ctx context.Context,
	args Arguments,
	ctrl *bufsiz.Controller,
	open busOpener,
	logger golog.Logger,
) (*bridge.Endpoint, io.Closer, error) {
	if args.SkipBufsiz {
		logger.Warnw("not checking driver buffer size", "module", ctrl.Module())
	} else if err := ctrl.EnsureBufferSize(ctx, uint16(args.FrameSize)); err != nil {
		return nil, nil, errors.Wrap(err, "failed to configure SPI driver buffer size")
	}

	opts := &spibridge.Opts{MaxSpeed: physic.Frequency(args.Speed) * physic.Hertz}
	dev, err := open(args.Device, opts, logger.Named("spi"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open SPI bus")
	}
	if limit := dev.MaxTxSize(); limit > 0 && limit < args.FrameSize {
		logger.Warnw("driver transfer limit is below the frame size, writes will fail",
			"max_tx_size", limit, "frame_size", args.FrameSize)
	}

	return bridge.NewEndpoint(dev, args.FrameSize, logger.Named("bridge")), dev, nil
}

// serve runs an HTTP server on ln until ctx is done. In-flight requests,
// and so in-flight bus writes, are allowed to finish.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger golog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("serving", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTP server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
