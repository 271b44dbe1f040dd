// Command dbr-bench is a smoke-test and throughput probe for a running
// dbr-forwardd instance: it attaches a namespace and drives concurrent
// PUT/GET pairs against it over the wire protocol of spec.md §6.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	addr        string
	namespace   string
	concurrency int
	ops         int
	valueSize   int
)

var rootCmd = &cobra.Command{
	Use:   "dbr-bench",
	Short: "Throughput and smoke-test probe for a dbr-forwardd instance",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9736", "dbr-forwardd address")
	rootCmd.Flags().StringVar(&namespace, "namespace", "bench", "namespace name to attach")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent workers")
	rootCmd.Flags().IntVar(&ops, "ops", 1000, "PUT/GET pairs per worker")
	rootCmd.Flags().IntVar(&valueSize, "value-size", 256, "payload size in bytes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	c, err := dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	return runBench(c, namespace, concurrency, ops, valueSize)
}
