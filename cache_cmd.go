package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/buildcache/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var (
	outputFormat string
	setTTL       time.Duration
)

// openCache builds a cache for a one-shot command. Background cleanup and
// directory watching are left off.
func openCache() *cache.Cache {
	cfg := cacheConfig
	cfg.AutoClean.Enabled = false
	cfg.Watch = false
	return cache.New(cfg, cache.WithLogger(log.Default().WithPrefix("cache")))
}

func withCache(fn func(c *cache.Cache) error) error {
	c := openCache()
	err := fn(c)
	if cerr := c.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("unable to close cache: %w", cerr)
	}
	return err
}

// parseConfiguredType resolves a type argument and checks that the cache is
// configured to hold it.
func parseConfiguredType(s string) (cache.Type, error) {
	t, err := cache.ParseType(s)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	if !cacheConfig.Allows(t) {
		return "", fmt.Errorf("%w: %s (enabled: %v)", cache.ErrTypeNotAllowed, t, cacheConfig.Types)
	}
	return t, nil
}

func completeTypes(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, t := range cache.KnownTypes {
		if !slices.Contains(args, t.String()) {
			out = append(out, t.String())
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func completeFirstType(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return completeTypes(cmd, args, toComplete)
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

// writeStructured renders v as JSON or YAML. It reports false for the text
// format so the caller can render its own view.
func writeStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("unable to encode json: %w", err)
		}
		return true, nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("unable to encode yaml: %w", err)
		}
		return true, enc.Close()
	case "text", "":
		return false, nil
	default:
		return true, fmt.Errorf("unsupported format %q: use text, json or yaml", format)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size, contents and hit rate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCache(func(c *cache.Cache) error {
			stats := c.Stats()
			if done, err := writeStructured(cmd.OutOrStdout(), outputFormat, stats); done {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats, isTTY()))
			return err //nolint:wrapcheck
		})
	},
}

func renderStats(s cache.Stats, styled bool) string {
	label, value, title, dim := labelStyle.Render, valueStyle.Render, titleStyle.Render, dimStyle.Render
	if !styled {
		plain := func(strs ...string) string { return strings.Join(strs, " ") }
		label = func(strs ...string) string { return fmt.Sprintf("%-14s", strings.Join(strs, " ")) }
		value, title, dim = plain, func(strs ...string) string { return plain(strs...) + "\n" }, plain
	}

	usage := 0.0
	if s.MaxBytes > 0 {
		usage = float64(s.TotalSize) / float64(s.MaxBytes) * 100
	}
	lastCleanup := "never"
	if !s.LastCleanup.IsZero() {
		lastCleanup = humanize.Time(s.LastCleanup)
	}
	disk := s.Dir
	if !s.DiskEnabled {
		disk = s.Dir + " " + dim("(unavailable, memory only)")
	}

	rows := []string{
		title("Cache"),
		label("Directory") + value(disk),
		label("Entries") + value(humanize.Comma(int64(s.TotalItems))),
		label("Size") + value(fmt.Sprintf("%s of %s (%.1f%%)",
			humanize.Bytes(uint64(s.TotalSize)), humanize.Bytes(uint64(s.MaxBytes)), usage)), //nolint:gosec
		label("Hit rate") + value(fmt.Sprintf("%.1f%%", s.HitRate*100)) +
			dim(fmt.Sprintf(" (%d hits, %d misses)", s.Hits, s.Misses)),
		label("Last cleanup") + value(lastCleanup),
	}

	for _, t := range cache.KnownTypes {
		ts, ok := s.ByType[t]
		if !ok {
			continue
		}
		rows = append(rows, label("  "+t.String())+value(fmt.Sprintf("%d entries, %s", ts.Count, humanize.Bytes(uint64(ts.Size))))) //nolint:gosec
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

var listCmd = &cobra.Command{
	Use:               "list [TYPE]",
	Short:             "List cached entries, next to be evicted first",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeFirstType,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter cache.Type
		if len(args) == 1 {
			t, err := cache.ParseType(args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}
			filter = t
		}

		return withCache(func(c *cache.Cache) error {
			var infos []cache.EntryInfo
			for _, info := range c.Entries() {
				if filter == "" || info.Type == filter {
					infos = append(infos, info)
				}
			}
			if done, err := writeStructured(cmd.OutOrStdout(), outputFormat, infos); done {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), infos)
		})
	},
}

func writeEntries(w io.Writer, infos []cache.EntryInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err //nolint:wrapcheck
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%-10s %-10s %9s %6s %7s  %-16s %s\n", "HASH", "TYPE", "SIZE", "HITS", "SCORE", "EXPIRES", "KEY")
	for _, info := range infos {
		fmt.Fprintf(&b, "%-10s %-10s %9s %6d %7.2f  %-16s %s\n",
			info.Hash[:8],
			info.Type,
			humanize.Bytes(uint64(info.SizeBytes)), //nolint:gosec
			info.AccessCount,
			info.Score,
			humanize.Time(info.ExpiresAt),
			info.Key)
	}
	_, err := w.Write(b.Bytes())
	return err //nolint:wrapcheck
}

var getCmd = &cobra.Command{
	Use:               "get TYPE KEY",
	Short:             "Print the payload cached for a key",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeFirstType,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseConfiguredType(args[0])
		if err != nil {
			return err
		}

		return withCache(func(c *cache.Cache) error {
			payload, ok := c.Get(args[1], typ)
			if !ok {
				return fmt.Errorf("no %s entry for %q", typ, args[1])
			}

			var out bytes.Buffer
			if err := json.Indent(&out, payload, "", "  "); err != nil {
				out.Reset()
				out.Write(payload)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return err //nolint:wrapcheck
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set TYPE KEY JSON",
	Short: "Cache a JSON payload under a key",
	Long: paragraph(fmt.Sprintf("\n%s a JSON payload under a key. Pass - as the payload to read it from stdin.",
		keyword("Cache"))),
	Example:           paragraph(`buildcache set deps package.json '{"react":"18.2.0"}'` + "\n" + `buildcache set build dist/app.js - --ttl 1h < manifest.json`),
	Args:              cobra.ExactArgs(3),
	ValidArgsFunction: completeFirstType,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseConfiguredType(args[0])
		if err != nil {
			return err
		}

		payload := []byte(args[2])
		if args[2] == "-" {
			payload, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("unable to read payload: %w", err)
			}
		}
		payload = bytes.TrimSpace(payload)
		if !json.Valid(payload) {
			return cache.ErrInvalidPayload
		}

		return withCache(func(c *cache.Cache) error {
			c.Set(args[1], typ, payload, cache.WithTTL(setTTL))
			if !c.Has(args[1], typ) {
				if int64(len(payload)) > c.Stats().MaxBytes {
					return cache.ErrItemTooLarge
				}
				return errors.New("entry was not cached, see the log for details")
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:               "delete TYPE KEY",
	Aliases:           []string{"rm"},
	Short:             "Remove a cached entry",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeFirstType,
	RunE: func(_ *cobra.Command, args []string) error {
		typ, err := cache.ParseType(args[0])
		if err != nil {
			return err //nolint:wrapcheck
		}
		return withCache(func(c *cache.Cache) error {
			c.Delete(args[1], typ)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:               "clear [TYPE...]",
	Short:             "Remove every entry, or every entry of the given types",
	Args:              cobra.ArbitraryArgs,
	ValidArgsFunction: completeTypes,
	RunE: func(cmd *cobra.Command, args []string) error {
		types := make([]cache.Type, 0, len(args))
		for _, arg := range args {
			t, err := cache.ParseType(arg)
			if err != nil {
				return err //nolint:wrapcheck
			}
			types = append(types, t)
		}

		return withCache(func(c *cache.Cache) error {
			before := c.Stats()
			c.Clear(types...)
			after := c.Stats()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %s entries (%s).\n",
				humanize.Comma(int64(before.TotalItems-after.TotalItems)),
				humanize.Bytes(uint64(max(before.TotalSize-after.TotalSize, 0)))) //nolint:gosec
			return err //nolint:wrapcheck
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries and evict down to the cleanup threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCache(func(c *cache.Cache) error {
			before := c.Stats().TotalSize
			removed := c.Cleanup()
			freed := before - c.Stats().TotalSize
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries, freed %s.\n", removed, humanize.Bytes(uint64(max(freed, 0)))) //nolint:gosec
			return err //nolint:wrapcheck
		})
	},
}

func cacheCommands() []*cobra.Command {
	for _, cmd := range []*cobra.Command{statsCmd, listCmd} {
		cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format: text, json or yaml")
	}
	setCmd.Flags().DurationVar(&setTTL, "ttl", 0, "time-to-live for the entry (default from config)")

	return []*cobra.Command{statsCmd, listCmd, getCmd, setCmd, deleteCmd, clearCmd, cleanupCmd}
}
