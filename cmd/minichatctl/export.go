package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/config"
	"github.com/matheus3301/minichat/internal/export"
	"github.com/matheus3301/minichat/internal/session"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *options) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [conversation-id]",
		Short: "Export a conversation (the active one by default)",
		Long: `Export a conversation as json, yaml or md.

Without --output the export goes to stdout. When --output is a directory the
file is named after the conversation id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.NewExporter(format)
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return opts.run(callTimeout, func(ctx context.Context, c *api.Client) error {
				conv, err := c.GetConversation(ctx, id)
				if err != nil {
					return err
				}
				if output == "" {
					return exp.Export(conv, cmd.OutOrStdout())
				}
				path := exportPath(output, conv.ID, exp.Extension())
				if err := writeExport(path, func(w io.Writer) error { return exp.Export(conv, w) }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", conv.Title, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format (json, yaml, md)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory")
	return cmd
}

// exportPath names the file inside output when output is a directory.
func exportPath(output, id, ext string) string {
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, id+"."+ext)
	}
	return output
}

func writeExport(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := session.ConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(session.ConfigPath())
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
