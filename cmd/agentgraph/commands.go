package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentgraph/checkpoint"
	"github.com/martinemde/agentgraph/permission"
)

var (
	stateFormat   string
	historyFormat string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the latest state of a thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		threadID, err := resolveThread(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cp, found, err := store.Load(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("thread %s has no checkpoints", threadID)
		}
		return writeFormatted(cmd.OutOrStdout(), stateFormat, cp.State)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the checkpoints of a thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		threadID, err := resolveThread(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		hist, err := store.History(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		if len(hist) == 0 {
			return fmt.Errorf("thread %s has no checkpoints", threadID)
		}
		if historyFormat != "table" {
			return writeFormatted(cmd.OutOrStdout(), historyFormat, hist)
		}
		writeHistoryTable(cmd.OutOrStdout(), hist)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Summarize the older history of a thread now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		threadID, err := resolveThread(cfg)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, loaded.logger, workDir)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.exec.Compact(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), compactSummary(res))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Start a fresh thread and make it current",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		threadID, err := resolveThread(cfg)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, loaded.logger, workDir)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.exec.Clear(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		if err := setCurrentThread(cfg.Storage.DataDir, id); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var modeCmd = &cobra.Command{
	Use:       "mode [default|accept-edits|plan|bypass]",
	Short:     "Show or set the default permission mode",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"default", "accept-edits", "plan", "bypass"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLoaded()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Mode())
			return nil
		}
		m, err := permission.ParseMode(args[0])
		if err != nil {
			return err
		}
		path := filepath.Join(cfg.Storage.DataDir, "agentgraph.yaml")
		if err := setConfigValue(path, "agent", "permission_mode", string(m)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "permission mode set to %s in %s\n", m, path)
		return nil
	},
}

func init() {
	stateCmd.Flags().StringVarP(&stateFormat, "format", "f", "json", "output format: json or yaml")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "output format: table, json or yaml")
}

// writeFormatted prints v as indented JSON or as YAML. YAML output follows
// the JSON field names.
func writeFormatted(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeHistoryTable(w io.Writer, hist []checkpoint.Checkpoint) {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dim := r.NewStyle().Foreground(lipgloss.Color("240"))
	row := func(cols ...string) string {
		return fmt.Sprintf("%-5s %-14s %-14s %-10s %-6s %s", cols[0], cols[1], cols[2], cols[3], cols[4], cols[5])
	}
	fmt.Fprintln(w, header.Render(row("SEQ", "NODE", "NEXT", "STATUS", "MSGS", "CREATED")))
	for _, cp := range hist {
		next := cp.State.Next
		if next == "" {
			next = "-"
		}
		fmt.Fprintln(w, row(
			fmt.Sprint(cp.Seq),
			cp.Node,
			next,
			string(cp.State.Status),
			fmt.Sprint(len(cp.State.Messages)),
			dim.Render(cp.CreatedAt.Local().Format(time.DateTime)),
		))
	}
}

// setConfigValue sets section.key in the YAML file at path, keeping the
// file's other settings.
func setConfigValue(path, section, key string, value any) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	sub, _ := doc[section].(map[string]any)
	if sub == nil {
		sub = map[string]any{}
	}
	sub[key] = value
	doc[section] = sub

	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
