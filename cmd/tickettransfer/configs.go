package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/goatkit/tickettransfer/internal/service/transferconfig"
)

var (
	configsActiveOnly    bool
	configsExportIDs     []int
	configsExportSecrets bool
	configsExportFile    string
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage destination configurations",
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List destination configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		configs, err := a.configs.List(ctx, configsActiveOnly)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"ID", "Name", "URL", "Database", "Active", "Stage Maps", "Last Test"})
		table.SetAutoFormatHeaders(false)
		for _, c := range configs {
			lastTest := "never"
			if c.LastTestDate != nil {
				lastTest = c.LastTestResult + " (" + timeago.English.Format(*c.LastTestDate) + ")"
			}
			table.Append([]string{
				strconv.Itoa(c.ID), c.Name, c.URL, c.Database,
				strconv.FormatBool(c.Active), strconv.Itoa(len(c.StageMappings)), lastTest,
			})
		}
		table.Render()
		return nil
	},
}

var configsTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Authenticate against a destination and store the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.configs.TestConnection(ctx, id); err != nil {
			return err
		}
		printf(cmd, "Connection to configuration %d succeeded\n", id)
		return nil
	},
}

var configsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export configurations as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if configsExportFile != "" {
			f, err := os.Create(configsExportFile)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		n, err := a.configs.Export(ctx, out, transferconfig.ExportOptions{
			IDs:            configsExportIDs,
			IncludeSecrets: configsExportSecrets,
		})
		if err != nil {
			return err
		}
		log.WithField("count", n).Info("configurations exported")
		return nil
	},
}

var configsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update configurations from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.configs.Import(ctx, f)
		if err != nil {
			return err
		}
		printf(cmd, "Created %d, updated %d\n", result.Created, result.Updated)
		for _, msg := range result.Errors {
			printf(cmd, "  skipped: %s\n", msg)
		}
		return nil
	},
}

func init() {
	configsListCmd.Flags().BoolVar(&configsActiveOnly, "active", false, "Only active configurations")
	configsExportCmd.Flags().IntSliceVar(&configsExportIDs, "id", nil, "Export only these ids")
	configsExportCmd.Flags().BoolVar(&configsExportSecrets, "include-secrets", false, "Include API keys in the export")
	configsExportCmd.Flags().StringVarP(&configsExportFile, "output", "o", "", "Write to file instead of stdout")
	configsCmd.AddCommand(configsListCmd, configsTestCmd, configsExportCmd, configsImportCmd)
}
