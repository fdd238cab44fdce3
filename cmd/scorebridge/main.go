package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/scorebridge/internal/config"
	"github.com/mattjoyce/scorebridge/internal/doctor"
	"github.com/mattjoyce/scorebridge/internal/inspect"
	"github.com/mattjoyce/scorebridge/internal/log"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

const workspaceUsage = "Usage: scorebridge workspace inspect <id> [--json] [--config <path>]"

// action is one verb of a noun.
type action struct {
	usage string
	run   func(args []string) int
}

// noun groups related actions under one CLI resource.
type noun struct {
	usage   string
	actions map[string]action
}

var nouns = map[string]noun{
	"system": {
		usage: "Usage: scorebridge system <action>\nActions: start",
		actions: map[string]action{
			"start": {
				usage: "Usage: scorebridge system start [--config <path>]\nStarts the HTTP service with the reaper and janitor sweeps in the foreground.",
				run:   runStart,
			},
		},
	},
	"config": {
		usage: "Usage: scorebridge config <action> [flags]\nActions: check",
		actions: map[string]action{
			"check": {
				usage: "Usage: scorebridge config check [--config <path>] [--json]\nValidates configuration, the converter executable, and the temp directory.",
				run:   runConfigCheck,
			},
		},
	},
	"sweep": {
		usage: "Usage: scorebridge sweep <janitor|reaper> [--config <path>]\nRuns one sweep with the configured retention and prints its report as JSON.",
		actions: map[string]action{
			"janitor": {
				usage: "Usage: scorebridge sweep janitor [--config <path>]\nRemoves workspaces older than janitor.max_age.",
				run:   func(args []string) int { return runSweep("janitor", args) },
			},
			"reaper": {
				usage: "Usage: scorebridge sweep reaper [--config <path>]\nKills converter processes older than reaper.max_age, with their descendants.",
				run:   func(args []string) int { return runSweep("reaper", args) },
			},
		},
	},
	"workspace": {
		usage: workspaceUsage,
		actions: map[string]action{
			"inspect": {
				usage: "Usage: scorebridge workspace inspect <id> [--json] [--config <path>]\nLists a workspace's files with their role, size and blake3 digest.",
				run:   runWorkspaceInspect,
			},
		},
	},
}

// aliases map root-level shortcuts onto noun actions.
var aliases = map[string][2]string{
	"start":  {"system", "start"},
	"doctor": {"config", "check"},
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd, args := cliArgs[0], cliArgs[1:]
	switch cmd {
	case "--version", "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	}

	if target, ok := aliases[cmd]; ok {
		return runAction(nouns[target[0]].actions[target[1]], args)
	}
	if n, ok := nouns[cmd]; ok {
		return runNoun(cmd, n, args)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
	printUsage()
	return 1
}

func runNoun(name string, n noun, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, n.usage)
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println(n.usage)
		return 0
	}
	act, ok := n.actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", name, args[0])
		return 1
	}
	return runAction(act, args[1:])
}

func runAction(act action, args []string) int {
	if hasHelpFlag(args) {
		fmt.Println(act.usage)
		return 0
	}
	return act.run(args)
}

func isHelpToken(token string) bool {
	return token == "help" || hasHelpFlag([]string{token})
}

func hasHelpFlag(args []string) bool {
	return slices.ContainsFunc(args, func(a string) bool { return a == "-h" || a == "--help" })
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil || fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: scorebridge version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if !*jsonOut {
		fmt.Printf("scorebridge %s\ncommit: %s\nbuilt_at: %s\n", info.Version, info.Commit, info.BuildTime)
		return 0
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// currentVersionInfo prefers ldflags-injected values and falls back to the
// VCS stamp recorded by the go toolchain.
func currentVersionInfo() versionInfo {
	vcs := vcsSettings()

	info := versionInfo{Version: "0.0.0-dev", Commit: "unknown", BuildTime: "unknown"}
	if v := strings.TrimSpace(version); v != "" {
		info.Version = v
	}
	if c := firstKnown(gitCommit, vcs["vcs.revision"]); c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		info.Commit = c
	}
	if t, err := time.Parse(time.RFC3339Nano, firstKnown(buildDate, vcs["vcs.time"])); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func firstKnown(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && v != "unknown" {
			return v
		}
	}
	return ""
}

func vcsSettings() map[string]string {
	out := map[string]string{}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			out[s.Key] = s.Value
		}
	}
	return out
}

func printUsage() {
	fmt.Print(`scorebridge - MIDI to MusicXML conversion service

Usage:
  scorebridge <noun> <action> [flags]

Nouns:
  system     Service lifecycle
  config     Configuration validation
  sweep      One-off reclamation sweeps
  workspace  Request workspaces on disk

Actions:
  system start            Start the conversion service in foreground (alias: start)
  config check            Validate configuration against this host (alias: doctor)
  sweep janitor           Remove stale workspaces once and exit
  sweep reaper            Reclaim runaway converter processes once and exit
  workspace inspect <id>  Show a workspace's artifacts

General:
  version [--json]   Show version information (also --version)
  help               Show this help message

All commands accept --config <path>. Without it, $SCOREBRIDGE_CONFIG,
./scorebridge.yaml and /etc/scorebridge/config.yaml are tried, then defaults.
`)
}

// --- ACTIONS ---

// loadConfigForTool resolves and loads configuration for a CLI action.
func loadConfigForTool(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		configPath = config.DiscoverConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		if *jsonOut {
			r := &doctor.Result{Valid: false, Errors: []doctor.Issue{{Category: "config", Message: err.Error()}}}
			out, _ := doctor.FormatJSON(r)
			fmt.Println(out)
		} else {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		}
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runSweep(name string, args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	// Stdout carries the report.
	logger := log.New(os.Stderr, cfg.Service.LogLevel, "text")

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		return 1
	}
	defer svc.close()

	var report any
	switch name {
	case "janitor":
		report = svc.sweepJanitor(context.Background())
	case "reaper":
		report = svc.sweepReaper(context.Background())
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runWorkspaceInspect(args []string) int {
	var id string
	var flagArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && id == "" {
			id = arg
		} else {
			flagArgs = append(flagArgs, arg)
		}
	}

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, workspaceUsage)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	mgr, err := workspace.NewFSManager(cfg.TempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		return 1
	}

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(context.Background(), mgr, id, time.Now())
	} else {
		out, err = inspect.BuildReport(context.Background(), mgr, id, time.Now())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}
