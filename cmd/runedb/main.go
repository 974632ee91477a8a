// Command runedb is the RuneDB command-line host: an interactive RuneQL
// shell, one-shot query execution, and JSON graph import/export over either
// the in-memory or the Badger-backed storage engine.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orneryd/runedb/pkg/config"
	"github.com/orneryd/runedb/pkg/runeql"
	"github.com/orneryd/runedb/pkg/storage"
)

// Version is stamped by the release build.
var Version = "dev"

var (
	configPath string
	paramFlags []string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "runedb",
		Short:         "RuneDB is a property-graph database with the RuneQL query language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(versionCmd())
	root.AddCommand(execCmd())
	root.AddCommand(shellCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(importCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the RuneDB version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("runedb", Version)
		},
	}
}

func execCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <query>",
		Short: "Execute one RuneQL submission and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setup()
			if err != nil {
				return err
			}
			defer engine.Close()

			params, err := parseParams(paramFlags)
			if err != nil {
				return err
			}
			result, err := runeql.NewExecutor(engine).Execute(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			fmt.Print(result.String())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "query parameter as name=value (value parsed as JSON, else string)")
	return cmd
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive RuneQL shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setup()
			if err != nil {
				return err
			}
			defer engine.Close()
			return runShell(cmd.Context(), engine)
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the graph as JSON ('-' for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setup()
			if err != nil {
				return err
			}
			defer engine.Close()

			out := os.Stdout
			if args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return storage.WriteExport(engine, out)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON graph export ('-' for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setup()
			if err != nil {
				return err
			}
			defer engine.Close()

			in := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			export, err := storage.ReadImport(engine, in)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d nodes, %d relationships\n", len(export.Nodes), len(export.Relationships))
			return nil
		},
	}
}

// setup loads configuration, wires logging, and opens the configured
// storage engine.
func setup() (storage.TransactionalEngine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logrus.SetLevel(level)
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	switch cfg.Engine {
	case config.EngineBadger:
		return storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    cfg.DataDir,
			SyncWrites: cfg.SyncWrites,
		})
	default:
		return storage.NewMemoryEngine(), nil
	}
}

// parseParams turns repeated name=value flags into a parameter map. Values
// that parse as JSON keep their JSON type; everything else is a string.
func parseParams(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(flags))
	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q (want name=value)", flag)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		params[name] = parsed
	}
	return params, nil
}

func runShell(ctx context.Context, engine storage.TransactionalEngine) error {
	executor := runeql.NewExecutor(engine)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("RuneDB", Version, "- type a RuneQL query ending with ';', or :quit to exit")

	var pending strings.Builder
	prompt := "runedb> "
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 && strings.HasPrefix(trimmed, ":") {
			switch trimmed {
			case ":quit", ":exit":
				return nil
			case ":help":
				fmt.Println("end a query with ';' to run it; :quit exits")
				continue
			default:
				fmt.Println("unknown command", trimmed)
				continue
			}
		}

		pending.WriteString(line)
		pending.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			prompt = "   ...> "
			continue
		}

		query := pending.String()
		pending.Reset()
		prompt = "runedb> "

		result, err := executor.Execute(ctx, query, nil)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out := result.String(); out != "" {
			fmt.Print(out)
		}
	}
}
