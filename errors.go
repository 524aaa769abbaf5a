package spibridge

import "fmt"

// OpenError is returned by Open when the path does not name a usable SPI
// device.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("spibridge: failed to open SPI bus %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ConfigureError is returned by Open when the driver rejects the transfer
// configuration.
type ConfigureError struct {
	Path string
	Opts Opts
	Err  error
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("spibridge: failed to configure SPI bus %q (%s, %d bits, %s): %v",
		e.Path, e.Opts.MaxSpeed, e.Opts.Bits, e.Opts.Mode, e.Err)
}

func (e *ConfigureError) Unwrap() error { return e.Err }

// WriteError wraps an I/O failure during a frame write. Written holds the
// count the driver reported before failing.
type WriteError struct {
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("spibridge: failed to write data to SPI bus: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
