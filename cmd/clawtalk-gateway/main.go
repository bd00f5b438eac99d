// Command clawtalk-gateway runs the Slack-ingress and Talk-routing gateway.
package main

import (
	"fmt"
	"os"

	"github.com/jokim1/ClawTalkGateway/cmd/clawtalk-gateway/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
