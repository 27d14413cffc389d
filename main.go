// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"runtime"

	"livefx/cmd"
	"livefx/internal/log"
	"livefx/pkg/build"
)

// main is the entry point for the livefx effects engine. Startup, the
// running engine and shutdown are driven by the run command; main only
// prepares the process and reports the final error.
func main() {
	// Development builds have no ldflags and run with default build info.
	if err := build.Initialize(); err != nil {
		log.Debugf("build info: %v", err)
	}

	// Limit OS threads for real-time audio processing:
	// - One thread for the device callback (time-critical)
	// - One thread for control, metrics and disk I/O
	runtime.GOMAXPROCS(2)

	if err := cmd.Execute(context.Background()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
