package bufsiz

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	// DefaultModule is the kernel module backing /dev/spidevB.C.
	DefaultModule = "spidev"

	// DefaultCommandTimeout bounds every external command.
	DefaultCommandTimeout = 10 * time.Second

	sysfsModules = "/sys/module"
	param        = "bufsiz"
	builtin      = "(builtin)"
)

// Controller queries and reconfigures the bufsiz parameter of a kernel
// module. It is meant to run once at startup, before the bus is opened;
// it holds no locks.
type Controller struct {
	module  string
	fs      afero.Fs
	runner  Runner
	timeout time.Duration
	logger  golog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithModule sets the module name (default: spidev).
func WithModule(name string) Option {
	return func(c *Controller) { c.module = name }
}

// WithFs sets the filesystem sysfs is read from (default: the OS filesystem).
func WithFs(fs afero.Fs) Option {
	return func(c *Controller) { c.fs = fs }
}

// WithRunner sets how modinfo, lsmod, rmmod and modprobe are run.
func WithRunner(r Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithCommandTimeout bounds each external command.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// NewController returns a Controller for the spidev module unless
// configured otherwise.
func NewController(logger golog.Logger, opts ...Option) *Controller {
	c := &Controller{
		module:  DefaultModule,
		fs:      afero.NewOsFs(),
		runner:  ExecRunner{},
		timeout: DefaultCommandTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Module returns the name of the managed module.
func (c *Controller) Module() string {
	return c.module
}

// ParamPath returns the sysfs file exposing the parameter.
func (c *Controller) ParamPath() string {
	return path.Join(sysfsModules, c.module, "parameters", param)
}

// EnsureBufferSize makes the module report a bufsiz of exactly target.
//
// Nothing is executed if the parameter already has the right value. Otherwise
// the module is unloaded and loaded again with bufsiz=target, then the value
// is read back. The sequence is not transactional: if loading fails the
// module stays unloaded and the returned error says so.
func (c *Controller) EnsureBufferSize(ctx context.Context, target uint16) error {
	current, err := c.BufferSize()
	known := err == nil
	switch {
	case known && current == target:
		c.logger.Debugw("buffer size already set", "module", c.module, "bufsiz", current)
		return nil
	case known:
		c.logger.Infow("buffer size mismatch", "module", c.module, "bufsiz", current, "target", target)
	case errors.Is(err, os.ErrNotExist):
		// sysfs only exposes parameters of loaded modules.
		c.logger.Infow("buffer size unknown", "module", c.module, "target", target, "error", err)
	default:
		return err
	}

	installable, err := c.Installable(ctx)
	if err != nil {
		return err
	}
	if !installable {
		return &ImmutableError{Module: c.module, Current: current, Known: known, Target: target}
	}

	if err := c.Unload(ctx); err != nil {
		return err
	}
	if err := c.Load(ctx, &target); err != nil {
		return err
	}

	got, err := c.BufferSize()
	if err != nil {
		return err
	}
	if got != target {
		return &VerifyError{Module: c.module, Want: target, Got: got}
	}
	c.logger.Infow("buffer size set", "module", c.module, "bufsiz", got)
	return nil
}

// BufferSize reads the current value of the parameter.
func (c *Controller) BufferSize() (uint16, error) {
	p := c.ParamPath()
	raw, err := afero.ReadFile(c.fs, p)
	if err != nil {
		return 0, &ReadError{Path: p, Err: err}
	}
	s := strings.TrimSpace(string(raw))
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, &ParseError{Path: p, Value: s, Err: err}
	}
	return uint16(v), nil
}

// Installable reports whether the module exists as a loadable module, as
// opposed to being built into the kernel or missing altogether.
func (c *Controller) Installable(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "modinfo", "-F", "filename", c.module)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		c.logger.Debugw("module not found", "module", c.module, "error", exitErr)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	filename := strings.TrimSpace(string(out))
	return filename != "" && !strings.Contains(filename, builtin), nil
}

// Loaded reports whether the module is currently loaded.
func (c *Controller) Loaded(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "lsmod")
	if err != nil {
		return false, errors.Wrap(err, "bufsiz: failed to list modules")
	}
	// lsmod always reports names with underscores.
	name := strings.ReplaceAll(c.module, "-", "_")
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, s.Err()
}

// Unload removes the module. It does nothing if the module is not loaded.
func (c *Controller) Unload(ctx context.Context) error {
	loaded, err := c.Loaded(ctx)
	if err != nil {
		return err
	}
	if !loaded {
		c.logger.Debugw("module not loaded, nothing to unload", "module", c.module)
		return nil
	}

	c.logger.Infow("unloading module", "module", c.module)
	if _, err := c.run(ctx, "rmmod", c.module); err != nil {
		return &UnloadError{Module: c.module, Diagnostic: stderr(err), Err: err}
	}
	return nil
}

// Load inserts the module, passing bufsiz=size when size is not nil.
func (c *Controller) Load(ctx context.Context, size *uint16) error {
	args := []string{c.module}
	if size != nil {
		args = append(args, fmt.Sprintf("%s=%d", param, *size))
	}

	c.logger.Infow("loading module", "module", c.module, "args", args[1:])
	if _, err := c.run(ctx, "modprobe", args...); err != nil {
		return &LoadError{Module: c.module, Diagnostic: stderr(err), Err: err}
	}
	return nil
}

func (c *Controller) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debugw("running", "command", commandLine(name, args))
	return c.runner.Run(ctx, name, args...)
}

func stderr(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	return ""
}
