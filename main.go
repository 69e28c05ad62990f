// Command sw360-dashboard exports SW360 catalogue statistics and AWS
// infrastructure telemetry to a Prometheus Pushgateway.
package main

import (
	"os"

	"dashboard.sw360.org/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
