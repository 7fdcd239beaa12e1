package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagiedev/rbridge-go/internal/executable"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and the configured worker executables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := flags.loadConfig()
			if err != nil {
				return err
			}

			opts, err := file.Options()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "listen:  %s:%d\n", opts.Host, opts.Port)
			fmt.Fprintf(out, "kill:    %v after %s\n", opts.KillSignal, opts.KillTimeout)
			fmt.Fprintf(out, "workers: %d\n", len(file.Workers))

			failed := 0

			for _, wc := range file.Workers {
				path, err := executable.Resolve(wc.Path)
				if err != nil {
					failed++

					fmt.Fprintf(out, "  ✗ %s: %v\n", wc.Name, err)

					continue
				}

				fmt.Fprintf(out, "  ✓ %s: %s\n", wc.Name, path)
			}

			if failed > 0 {
				return fmt.Errorf("%d worker executable(s) invalid", failed)
			}

			return nil
		},
	}
}
