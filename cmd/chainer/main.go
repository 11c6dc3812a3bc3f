// Package main provides the chainer binary: an MCP tool-chaining engine
// that registers bindings to external tool servers, composes them into
// conditional chains, and executes chains against fresh subprocesses.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/handley-lab/chainer/pkg/engine"
	"github.com/handley-lab/chainer/pkg/invoker"
	"github.com/handley-lab/chainer/pkg/mcpserver"
	"github.com/handley-lab/chainer/pkg/render"
	"github.com/handley-lab/chainer/pkg/schema"
	"github.com/handley-lab/chainer/pkg/state"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var cacheDir string

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// statePath resolves the state file location: --cache-dir flag, then
// CHAINER_CACHE_DIR, then the platform cache directory.
func statePath() string {
	if cacheDir != "" {
		return filepath.Join(cacheDir, "state.json")
	}
	if dir := os.Getenv("CHAINER_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, "state.json")
	}
	return state.DefaultPath()
}

func newEngine() *engine.Engine {
	return engine.New(state.Open(statePath()), &invoker.RealInvoker{})
}

var rootCmd = &cobra.Command{
	Use:   "chainer",
	Short: "MCP tool chaining engine",
	Long:  "chainer — register MCP tool servers, compose them into conditional chains, and execute chains against fresh subprocesses.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chainer operations over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mcpserver.NewServer(version, newEngine())
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

var discoverTimeout int

var discoverCmd = &cobra.Command{
	Use:   "discover <server-command>",
	Short: "List the functions a tool server command exposes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(newEngine().DiscoverTools(cmd.Context(), args[0], discoverTimeout))
	},
}

var (
	registerFile        string
	registerDescription string
	registerTimeout     int
)

var registerCmd = &cobra.Command{
	Use:   "register [tool-id server-command tool-name]",
	Short: "Register a tool binding (or bulk-register with -f)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := newEngine()

		if registerFile != "" {
			bf, err := schema.LoadBindingsFile(registerFile)
			if err != nil {
				return err
			}
			for _, b := range bf.Tools {
				msg, err := eng.RegisterBinding(b)
				if err != nil {
					return fmt.Errorf("tool '%s': %w", b.ToolID, err)
				}
				fmt.Println(msg)
			}
			return nil
		}

		if len(args) != 3 {
			return fmt.Errorf("expected <tool-id> <server-command> <tool-name> (or -f <file>)")
		}
		msg, err := eng.RegisterTool(args[0], args[1], args[2], registerDescription, registerTimeout)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

var chainFile string

var chainCmd = &cobra.Command{
	Use:   "chain -f <chain.yaml>",
	Short: "Define a chain from a YAML definition file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if chainFile == "" {
			return fmt.Errorf("a chain definition file is required (-f)")
		}
		c, errs := schema.ValidateChainFile(chainFile)
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, e.Error())
			}
			return fmt.Errorf("chain definition is invalid (%d errors)", len(errs))
		}
		msg, err := newEngine().ChainTools(c.ChainID, c.Steps, c.SaveToFile)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

var (
	execTimeout int
	execVars    []string
)

var execCmd = &cobra.Command{
	Use:   "exec <chain-id>",
	Short: "Execute a defined chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variables := make(map[string]any)
		for _, kv := range execVars {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid --var %q (expected key=value)", kv)
			}
			variables[parts[0]] = parts[1]
		}

		summary, err := newEngine().ExecuteChain(cmd.Context(), args[0], execTimeout, variables)
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil
	},
}

var historyPlain bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the chain execution history",
	Run: func(cmd *cobra.Command, args []string) {
		eng := newEngine()
		if historyPlain {
			fmt.Println(eng.ShowHistory())
			return
		}
		fmt.Println(render.History(eng.History()))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset registered tools, chains, and history",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(newEngine().ClearCache())
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Report store counts and readiness",
	Run: func(cmd *cobra.Command, args []string) {
		eng := newEngine()
		tools, chains, history := eng.Counts()
		fmt.Println(render.Info(tools, chains, history, statePath()))
	},
}

var schemaCmd = &cobra.Command{
	Use:       "schema <chain|bindings>",
	Short:     "Export a JSON Schema for definition documents",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"chain", "bindings"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		switch args[0] {
		case "chain":
			data, err = schema.GenerateChainJSONSchema()
		case "bindings":
			data, err = schema.GenerateBindingsJSONSchema()
		default:
			return fmt.Errorf("unknown schema type %q — use 'chain' or 'bindings'", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chainer %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "state directory (default: platform cache dir)")

	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 0, "discovery timeout in seconds")
	registerCmd.Flags().StringVarP(&registerFile, "file", "f", "", "bulk-register bindings from a YAML file")
	registerCmd.Flags().StringVar(&registerDescription, "description", "", "binding description")
	registerCmd.Flags().IntVar(&registerTimeout, "timeout", 0, "per-invocation timeout in seconds (default 30)")
	chainCmd.Flags().StringVarP(&chainFile, "file", "f", "", "chain definition YAML file")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "override every step's timeout for this run")
	execCmd.Flags().StringArrayVar(&execVars, "var", nil, "base variable key=value (repeatable)")
	historyCmd.Flags().BoolVar(&historyPlain, "plain", false, "plain output without styling")

	rootCmd.AddCommand(serveCmd, discoverCmd, registerCmd, chainCmd, execCmd,
		historyCmd, clearCmd, infoCmd, schemaCmd, versionCmd)
}
