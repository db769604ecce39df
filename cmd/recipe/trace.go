package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/recipe/pkg/trace"
)

var traceShowCmd = &cobra.Command{
	Use:   "show [trace.jsonl]",
	Short: "Print the events of a run trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceShow,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Trace file operations",
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	events, err := trace.ReadFile(args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("%s: no events", args[0])
	}
	printEvents(cmd.OutOrStdout(), events)
	return nil
}

func printEvents(w io.Writer, events []trace.Event) {
	runID := ""
	start := events[0].Timestamp
	for _, ev := range events {
		if ev.RunID != runID {
			runID = ev.RunID
			start = ev.Timestamp
			fmt.Fprintf(w, "run %s\n", runID)
		}
		offset := ev.Timestamp.Sub(start).Round(time.Millisecond)
		fmt.Fprintf(w, "  %8s  %-17s %s\n", offset, ev.Type, formatData(ev.Data))
	}
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	traceCmd.AddCommand(traceShowCmd)
}
