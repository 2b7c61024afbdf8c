package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Proton-105/protrader-agent/internal/desktop"
	"github.com/Proton-105/protrader-agent/internal/vision"
)

var matchCmd = &cobra.Command{
	Use:   "match <template>",
	Short: "Search the screen for a template once",
	Long:  `Captures the configured monitor and prints every match of the template, best first. Useful to tune thresholds.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		monitor, _ := cmd.Flags().GetInt("monitor")
		if monitor == 0 {
			monitor = cfg.Vision.MonitorIndex
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		alpha, _ := cmd.Flags().GetBool("alpha")
		rightHalf, _ := cmd.Flags().GetBool("right-half")

		grabber, err := desktop.NewScreen(monitor)
		if err != nil {
			return err
		}
		defaults, err := vision.DefaultsFromConfig(cfg.Vision)
		if err != nil {
			return err
		}
		screen := vision.NewScreen(grabber, nil, vision.NewMatcher(defaults), log)

		q := vision.Query{Template: args[0], Threshold: threshold, Alpha: alpha}
		if rightHalf {
			q.Region = vision.RightHalf(screen.Bounds())
		}

		results, err := screen.FindAll(cmd.Context(), q)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !term.IsTerminal(fdOf(out)) {
			return json.NewEncoder(out).Encode(results)
		}

		if len(results) == 0 {
			fmt.Fprintln(out, "no match")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LEFT\tTOP\tWIDTH\tHEIGHT\tSCORE\tSCALE")
		for _, m := range results {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4f\t%.3f\n", m.Left, m.Top, m.Width, m.Height, m.Score, m.Scale)
		}
		return tw.Flush()
	},
}

func init() {
	matchCmd.Flags().Int("monitor", 0, "monitor index, 1-based (default from configuration)")
	matchCmd.Flags().Float64("threshold", 0, "minimum score (default from configuration)")
	matchCmd.Flags().Bool("alpha", false, "bake transparent pixels before matching")
	matchCmd.Flags().Bool("right-half", false, "only search the right half of the monitor")
	rootCmd.AddCommand(matchCmd)
}

type fder interface {
	Fd() uintptr
}

func fdOf(w any) int {
	if f, ok := w.(fder); ok {
		return int(f.Fd())
	}
	return -1
}
