package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/catalog"
	"github.com/sells-group/teardown/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the curated device catalog",
}

// -- catalog import --

var catalogImportCmd = &cobra.Command{
	Use:   "import <seed.yaml>",
	Short: "Import devices from a YAML seed file",
	Long:  "Inserts every device in the seed file that is not already cataloged under the same brand and model.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "catalog import: open seed file")
		}
		defer f.Close() //nolint:errcheck

		stats, err := catalog.Import(ctx, st, f)
		if err != nil {
			return eris.Wrap(err, "catalog import")
		}
		zap.L().Info("catalog import complete",
			zap.String("file", args[0]),
			zap.Int("created", stats.Created),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

// -- catalog list --

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		devices, err := st.ListDevices(ctx, limit, offset)
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}
		if len(devices) == 0 {
			fmt.Fprintln(os.Stderr, "No devices found.")
			return nil
		}

		formatDeviceList(cmd.OutOrStdout(), devices)
		return nil
	},
}

// -- catalog show --

var catalogShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show a device with its components",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		device, err := st.GetDevice(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "catalog show")
		}
		comps, err := st.ListComponents(ctx, device.ID)
		if err != nil {
			return eris.Wrap(err, "catalog show: components")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(model.DeviceWithComponents{Device: *device, Components: comps})
	},
}

func init() {
	catalogListCmd.Flags().Int("limit", 50, "max number of devices to display")
	catalogListCmd.Flags().Int("offset", 0, "number of devices to skip")

	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

// formatDeviceList writes a tabular list of devices to w.
func formatDeviceList(out io.Writer, devices []model.CatalogDevice) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBRAND\tMODEL\tNAME\tCATEGORY\tVERIFIED\tSCANS")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t----\t--------\t--------\t-----")

	for _, d := range devices {
		name := d.DeviceName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%d\n",
			truncateID(d.ID),
			d.Brand,
			d.Model,
			name,
			d.Category,
			d.Verified,
			d.ScanCount,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
