// Package spibridge pushes full-frame buffers to a peripheral attached to a
// Linux spidev SPI bus.
//
// The bus is opened once through periph.io and then shared by every caller.
// Writes are serialized: a frame is always sent as one transfer and never
// interleaved with another frame.
//
// # Hardware Connection
//
// Enable the SPI controller on your board (for example dtparam=spi=on on a
// Raspberry Pi) and connect the peripheral:
//
//	Peripheral Pin → System Pin
//	GND            → GND
//	VCC            → 3.3V (or 5V depending on peripheral)
//	SCL/CLK        → SPI Clock (SCLK)
//	SDA/MOSI       → SPI Data (MOSI)
//	CS             → SPI Chip Select (CE0 for /dev/spidev0.0)
//
// # Basic Usage
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/edaniels/golog"
//		"github.com/flavioheleno/spibridge"
//		"periph.io/x/host/v3"
//	)
//
//	func main() {
//		logger := golog.NewDevelopmentLogger("demo")
//
//		// Register the sysfs spidev driver
//		host.Init()
//
//		dev, _ := spibridge.Open("/dev/spidev0.0", &spibridge.Opts{
//			MaxSpeed: spibridge.DefaultMaxSpeed,
//		}, logger)
//		defer dev.Close()
//
//		frame := make([]byte, spibridge.DefaultFrameSize)
//		// ... fill frame ...
//		dev.Write(context.Background(), frame)
//	}
//
// # Transfer Buffer Size
//
// The spidev driver refuses single transfers larger than its bufsiz module
// parameter (4096 bytes by default). A full frame is larger than that, so
// the parameter has to be raised before the bus is opened. Package bufsiz
// does that by reloading the module with the right value:
//
//	ctrl := bufsiz.NewController(logger)
//	if err := ctrl.EnsureBufferSize(ctx, spibridge.DefaultFrameSize); err != nil {
//		// spidev is built into the kernel, or modprobe failed
//	}
//
// Reloading the module requires root. When bufsiz already has the right
// value nothing is executed, so an unprivileged process can still start
// once the parameter has been set (for example through
// /etc/modprobe.d/spidev.conf: options spidev bufsiz=7868).
//
// # Concurrency
//
// Dev.Write may be called from any number of goroutines. Callers queue on a
// weighted semaphore. Waiting can be cancelled through the context, but a
// transfer that already started always runs to completion.
//
// # Performance
//
// At the default 300kHz clock a 7868 byte frame takes about 210ms on the
// wire. Raise Opts.MaxSpeed if the peripheral supports it.
package spibridge
