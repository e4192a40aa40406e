package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "prism-board",
		Short:   "Prism board service",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
				log.SetLevel(log.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(storageInitCmd())
	rootCmd.AddCommand(genTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
