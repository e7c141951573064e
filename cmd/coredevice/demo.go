package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/coredevice/payload"
)

func newDemoCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "demo [name]",
		Short: "List the bundled demo programs or write one to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range payload.DemoNames() {
					fmt.Fprintln(w, name)
				}
				return nil
			}
			image, ok := payload.Demo(args[0])
			if !ok {
				return fmt.Errorf("unknown demo %q", args[0])
			}
			if output == "" {
				output = args[0] + ".wasm"
			}
			if err := os.WriteFile(output, image, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s (%d bytes)\n", output, len(image))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <name>.wasm)")
	return cmd
}
