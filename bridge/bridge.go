// Package bridge exposes frame writes to the network.
//
// An Endpoint checks the length of a submitted frame and hands it to the bus;
// Handler serves Endpoint over HTTP as POST /update_raw.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edaniels/golog"
	"go.opencensus.io/trace"
)

// FrameWriter writes one full frame and reports how many bytes were
// transferred. *spibridge.Dev implements it.
type FrameWriter interface {
	Write(ctx context.Context, frame []byte) (int, error)
}

// Result is the outcome of a submitted frame.
type Result struct {
	OK           bool
	BytesWritten int
	Reason       string
}

// Success returns a successful Result.
func Success(n int) Result {
	return Result{OK: true, BytesWritten: n}
}

// Failure returns a failed Result carrying reason.
func Failure(reason string) Result {
	return Result{Reason: reason}
}

// MarshalJSON encodes r as {"status":"ok","bytes_written":n} or
// {"status":"error","reason":"..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(struct {
			Status       string `json:"status"`
			BytesWritten int    `json:"bytes_written"`
		}{"ok", r.BytesWritten})
	}
	return json.Marshal(struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}{"error", r.Reason})
}

// Endpoint validates frames and writes them to the bus.
type Endpoint struct {
	dev       FrameWriter
	frameSize int
	logger    golog.Logger
}

// NewEndpoint returns an Endpoint accepting frames of exactly frameSize bytes.
func NewEndpoint(dev FrameWriter, frameSize int, logger golog.Logger) *Endpoint {
	return &Endpoint{dev: dev, frameSize: frameSize, logger: logger}
}

// FrameSize returns the only accepted frame length.
func (e *Endpoint) FrameSize() int {
	return e.frameSize
}

// Submit writes raw to the bus if it is exactly one frame long. The bus is
// not touched otherwise. Failures are logged and returned as a failed
// Result, never retried.
func (e *Endpoint) Submit(ctx context.Context, raw []byte) Result {
	ctx, span := trace.StartSpan(ctx, "bridge::Endpoint::Submit")
	defer span.End()

	if len(raw) != e.frameSize {
		e.logger.Errorw("raw_data has the wrong size, refusing to write", "want", e.frameSize, "got", len(raw))
		return Failure(fmt.Sprintf("raw_data is not %d bytes long", e.frameSize))
	}

	n, err := e.dev.Write(ctx, raw)
	if err != nil {
		e.logger.Errorw("failed to write frame", "error", err)
		return Failure(err.Error())
	}
	e.logger.Debugw("wrote frame", "bytes", n)
	return Success(n)
}
