package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "s3-loader",
	Short:         "Deliver serialized batches to object storage",
	Long:          `s3-loader uploads already-serialized batches to S3-compatible object storage, retrying with a fixed backoff until the store accepts them, and routes failed records to a dead-letter sink.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "s3-loader: %v\n", err)
		os.Exit(1)
	}
}
