package main

import (
	"errors"
	"fmt"
	"os"

	"vmfleet/cmd/vmfleet/ui"
	"vmfleet/internal/logging"
	"vmfleet/internal/preflight"

	"github.com/spf13/cobra"
)

func main() {
	a := &app{}

	if err := logging.Configure(os.Stderr, "warn"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	var noColor bool
	root := &cobra.Command{
		Use:           "vmfleet",
		Short:         "Declarative VM fleets: converge machines toward a config file",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor(noColor || a.jsonOut)
			level := "warn"
			if a.debug {
				level = "debug"
			}
			return logging.Configure(os.Stderr, level)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "vmfleet.yaml", "Path to the fleet config file")
	pf.StringVar(&a.platform, "platform", "hyperv", "Virtualization platform (hyperv, docker)")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&a.jsonOut, "json", false, "Machine-readable JSON output")
	pf.BoolVar(&a.dryRun, "dry-run", false, "Plan only, apply nothing")
	pf.BoolVar(&a.continueOnFailure, "continue-on-failure", false, "Keep applying remaining actions after a failure")
	pf.BoolVar(&noColor, "no-color", false, "Disable styled output")

	root.AddCommand(
		upCmd(a),
		haltCmd(a),
		destroyCmd(a),
		statusCmd(a),
		checkpointCmd(a),
	)

	if err := root.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func reportError(err error) {
	fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))

	var pf *preflight.Error
	if errors.As(err, &pf) {
		fmt.Fprintln(os.Stderr, ui.WarnMsg("remedy: %s", pf.Remedy))
	}
}
