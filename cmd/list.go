package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/netceiver"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the adapters of all NetCeiver tuners found on the network",
	Run:   list,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func list(cmd *cobra.Command, args []string) {
	cfg, log, err := setup()
	if err != nil {
		logrus.Fatal(err)
	}

	registry, table, err := discover(context.Background(), cfg, netceiver.NewMetrics(prometheus.NewRegistry()), log)
	if err != nil {
		log.Fatal(err)
	}
	defer table.Close()

	printAdapters(cmd.OutOrStdout(), registry)
}

func printAdapters(w io.Writer, registry *adapter.Registry) {
	for id := 0; id < registry.Capacity(); id++ {
		a, ok := registry.Get(id)
		if !ok {
			continue
		}
		systems := make([]string, 0, len(a.Systems))
		for _, s := range a.Systems {
			systems = append(systems, s.String())
		}
		presence := "present"
		if !a.Present {
			presence = "absent"
		}
		fmt.Fprintf(w, "%2d %-40s %-12s %s\n", a.ID, a.Name, strings.Join(systems, ","), presence)
	}
}
