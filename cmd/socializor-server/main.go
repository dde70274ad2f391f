// socializor-server issues RS256 credentials over HTTPS and redirects
// plaintext requests to the TLS listener.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"socializor-server-go/internal/bootstrap"
)

func main() {
	var configPath string
	flagSet := pflag.NewFlagSet("socializor-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML configuration file (default: $SOCIALIZOR_CONFIG or .config.yaml)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(bootstrap.ExitFailure)
	}

	fmt.Printf("[%s] [INFO] [Bootstrap] starting socializor-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{ConfigPath: configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "socializor-server failed: %v\n", err)
		os.Exit(bootstrap.ExitCode(err))
	}
}
