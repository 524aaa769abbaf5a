// Package main serves frames submitted over HTTP to an SPI bus.
package main

import (
	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/flavioheleno/spibridge/server"
)

var logger = golog.NewDevelopmentLogger("spibridge")

func main() {
	utils.ContextualMain(server.RunServer, logger)
}
