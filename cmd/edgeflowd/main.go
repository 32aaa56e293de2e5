// Command edgeflowd runs the edgeflow engine as a daemon, fed by the MQTT
// ingress adapter.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "edgeflowd:", err)
		os.Exit(1)
	}
}
