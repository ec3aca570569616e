package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
)

func newRunCommand(c *cli) *cobra.Command {
	var (
		runID    string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow.json|workflow.yaml>",
		Short: "Execute a workflow and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := engine.LoadFile(args[0])
			if err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "load workflow")
			}
			st, err := buildStack(cmd.Context(), c.cfg, nil, nil)
			if err != nil {
				return err
			}
			if validate {
				if err := engine.Validate(def, st.registry); err != nil {
					return err
				}
				if _, err := engine.Order(def); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "workflow is valid")
				return nil
			}

			var opts []engine.RunOption
			if runID != "" {
				opts = append(opts, engine.WithRunID(runID))
			}
			result := st.engine.Execute(cmd.Context(), def, opts...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			return result.Err()
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().BoolVar(&validate, "validate", false, "only validate the workflow against the registry")
	return cmd
}
