package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/halver/nudge/internal/config"
)

// --- sites ---

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List recently visited sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sites/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var sites []struct {
			URL           string    `json:"url"`
			Title         string    `json:"title"`
			Domain        string    `json:"domain"`
			Category      string    `json:"category"`
			DurationMs    int64     `json:"duration_ms"`
			VisitCount    int       `json:"visit_count"`
			LastVisitedAt time.Time `json:"last_visited_at"`
		}
		if err := decodeJSON(resp, &sites); err != nil {
			return err
		}

		if len(sites) == 0 {
			fmt.Println("No recent sites.")
			return nil
		}

		for _, s := range sites {
			title := s.Title
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			dwell := (time.Duration(s.DurationMs) * time.Millisecond).Truncate(time.Second)
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("%-14s", s.Category)),
				fmt.Sprintf("%2dx %6s", s.VisitCount, dwell),
				title,
			)
			fmt.Printf("    %s\n", s.URL)
		}
		return nil
	},
}

func init() {
	sitesCmd.Flags().Int("limit", 20, "maximum number of sites to list")
}

// --- history ---

type batchView struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	TriggerURL string    `json:"trigger_url"`
	Tasks      []struct {
		Title    string `json:"title"`
		Category string `json:"category"`
	} `json:"tasks"`
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show past suggestion batches",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			resp, err := client.get(cmd.Context(), "/suggestions/history/"+args[0])
			if err != nil {
				return err
			}

			var batch any
			if err := decodeJSON(resp, &batch); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(batch)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/suggestions/history?limit=%d", limit))
		if err != nil {
			return err
		}

		var batches []batchView
		if err := decodeJSON(resp, &batches); err != nil {
			return err
		}

		if len(batches) == 0 {
			fmt.Println("No suggestion batches yet.")
			return nil
		}

		for _, b := range batches {
			fmt.Printf("%s  %s  %d task(s)\n",
				colorize(colorCyan, b.ID[:8]),
				b.CreatedAt.Local().Format("2006-01-02 15:04"),
				len(b.Tasks),
			)
			for _, t := range b.Tasks {
				fmt.Printf("    - %s\n", t.Title)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of batches to list")
}

// --- cooldown ---

var cooldownCmd = &cobra.Command{
	Use:   "cooldown <seconds>",
	Short: "Set the global suggestion cooldown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds <= 0 {
			return fmt.Errorf("seconds must be a positive integer, got %q", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/settings/cooldown", map[string]any{"seconds": seconds})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Global cooldown set to %ds", seconds)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
