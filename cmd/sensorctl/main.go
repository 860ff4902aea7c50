// Command sensorctl inspects sensor descriptors and prepares credentials
// for the OpenSensorCore daemon without talking to it.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
