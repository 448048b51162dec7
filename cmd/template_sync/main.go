// Package main implements the template_sync binary that brings upstream
// template changes into a downstream repository.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/tmplsync/template_sync/internal/config"
	"github.com/tmplsync/template_sync/internal/log"
	"github.com/tmplsync/template_sync/internal/repo"
	"github.com/tmplsync/template_sync/internal/runner"
	"github.com/tmplsync/template_sync/internal/sync"
)

// Config holds the command line options. Pointer fields stay nil when the
// option is not given so the config file value can show through.
type Config struct {
	Debug          *bool    `short:"d" long:"debug" env:"TEMPLATE_SYNC_DEBUG" description:"Enable debug logging"`
	DryRun         *bool    `long:"dry-run" env:"TEMPLATE_SYNC_DRY_RUN" description:"Print the patch without applying it"`
	TemplateURL    *string  `long:"template-url" env:"TEMPLATE_SYNC_TEMPLATE_URL" description:"Template repository URL"`
	Exclude        []string `long:"exclude" env:"TEMPLATE_SYNC_EXCLUDE" env-delim:"," description:"Additional paths to exclude (repeatable, comma separated)"`
	SkipInstall    *bool    `long:"skip-install" env:"TEMPLATE_SYNC_SKIP_INSTALL" description:"Do not reinstall dependencies after the sync"`
	InstallCommand *string  `long:"install-command" env:"TEMPLATE_SYNC_INSTALL_COMMAND" description:"Command used to reinstall dependencies"`
	RemoteName     *string  `long:"remote-name" env:"TEMPLATE_SYNC_REMOTE_NAME" description:"Name of the template remote"`
	Branch         *string  `long:"branch" env:"TEMPLATE_SYNC_BRANCH" description:"Template branch to sync from"`
	MaxRetries     *int     `long:"max-retries" env:"TEMPLATE_SYNC_MAX_RETRIES" description:"Retries after a partially failed apply"`
	SkipCleanCheck *bool    `long:"skip-clean-check" env:"TEMPLATE_SYNC_SKIP_CLEAN_CHECK" description:"Run even with uncommitted changes"`
	From           *string  `long:"from" env:"TEMPLATE_SYNC_FROM" description:"Template commit to diff from"`
	LastCommitFile *string  `short:"l" long:"last-commit-file" env:"TEMPLATE_SYNC_LAST_COMMIT_FILE" description:"File storing the last synced template commit"`
	Init           *string  `short:"i" long:"init" optional:"yes" optional-value:".tt-upgrade.config.json" description:"Write a default config file and exit"`
	ConfigFile     string   `short:"c" long:"config" env:"TEMPLATE_SYNC_CONFIG" description:"Config file" default:".tt-upgrade.config.json"`
	Cleanup        *bool    `long:"cleanup" env:"TEMPLATE_SYNC_CLEANUP" description:"Remove backups and logs after the sync"`
	LogLevel       string   `long:"log-level" env:"TEMPLATE_SYNC_LOG_LEVEL" description:"Log level: debug|info|warn|error" default:"info"`
	Version        bool     `short:"v" long:"version" description:"Show version information"`

	Args positionalArgs `positional-args:"yes"`
	Help bool
}

type positionalArgs struct {
	BaseRef string `positional-arg-name:"base-ref" description:"Template commit to diff from"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// ParseCLI parses command-line arguments (without the program name) and
// returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // only one positional base ref is accepted
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// File converts the options given on the command line to a config overlay.
func (c *Config) File() config.File {
	f := config.File{
		Debug:           c.Debug,
		DryRun:          c.DryRun,
		TemplateURL:     c.TemplateURL,
		SkipInstall:     c.SkipInstall,
		InstallCommand:  c.InstallCommand,
		RemoteName:      c.RemoteName,
		Branch:          c.Branch,
		MaxPatchRetries: c.MaxRetries,
		SkipCleanCheck:  c.SkipCleanCheck,
		From:            c.From,
		LastCommitFile:  c.LastCommitFile,
		Cleanup:         c.Cleanup,
	}
	if f.From == nil && c.Args.BaseRef != "" {
		f.From = &c.Args.BaseRef
	}
	for _, e := range c.Exclude {
		for _, p := range strings.Split(e, ",") {
			if p = strings.TrimSpace(p); p != "" {
				f.ExcludePaths = append(f.ExcludePaths, p)
			}
		}
	}
	return f
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("template_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system. debug forces the debug level.
func SetupLogging(logLevel string, debug bool) error {
	if debug {
		logLevel = "debug"
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(!isatty.IsTerminal(os.Stderr.Fd())))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Debug("template_sync logging initialized")
	return nil
}

// FindRoot locates the workspace root from the working directory.
func FindRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	root, err := config.FindRoot(wd)
	if errors.Is(err, config.ErrRootNotFound) {
		logrus.WithField("dir", root).Debug("Workspace root not found, using working directory")
	}
	return root
}

// LoadOptions merges the config file under root with the command line.
func LoadOptions(root string, cmdOpts *Config) config.Options {
	file, err := config.Load(root, cmdOpts.ConfigFile)
	if err != nil {
		logrus.WithError(err).Warn("Ignoring config file")
		file = config.File{}
	}
	return config.Resolve(root, config.Merge(file, cmdOpts.File()))
}

// Confirm asks a yes/no question on the terminal.
func Confirm(in io.Reader, out io.Writer) func(string) bool {
	reader := bufio.NewReader(in)
	return func(question string) bool {
		fmt.Fprintf(out, "%s %s ", question, gray.Render("[y/N]"))
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", red.Render("Error:"), err)
}

// Run executes one sync and returns the process exit code.
func Run(ctx context.Context, opts config.Options, out io.Writer, extra ...sync.ServiceOption) int {
	r := runner.New()
	service := sync.NewService(opts, repo.NewGit(opts.Root, r), repo.NewHistory(opts.Root), r, append([]sync.ServiceOption{sync.WithOutput(out)}, extra...)...)

	report, err := service.Run(ctx)
	if err != nil {
		if errors.Is(err, sync.ErrDirtyTree) {
			err = fmt.Errorf("%w; commit or stash them, or pass --skip-clean-check", err)
		}
		logrus.WithError(err).Error("Template sync failed")
		printError(out, err)
		return 1
	}

	if report.DryRun {
		return 0
	}
	if report.Degraded() {
		msg := "Template synced with warnings"
		if report.ErrorLogWritten {
			msg += fmt.Sprintf(", see %s", filepath.Join(opts.Root, config.ErrorLogFile))
		}
		fmt.Fprintln(out, yellow.Render("Warning:"), msg)
		return 0
	}
	fmt.Fprintln(out, green.Render("Done:"), "Template synced to", report.Head)
	return 0
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	root := FindRoot()
	// variables already in the environment win over .env
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env")
	}

	cmdOpts, err := ParseCLI(os.Args[1:])
	if err != nil {
		if cmdOpts != nil && cmdOpts.Help {
			os.Exit(0)
		}
		printError(os.Stdout, err)
		os.Exit(1)
	}

	if cmdOpts.Init != nil {
		path, err := config.WriteDefault(root, *cmdOpts.Init)
		if err != nil {
			printError(os.Stdout, err)
			os.Exit(1)
		}
		fmt.Println(green.Render("Created"), path)
		os.Exit(0)
	}

	opts := LoadOptions(root, cmdOpts)
	if err := SetupLogging(cmdOpts.LogLevel, opts.Debug); err != nil {
		printError(os.Stdout, err)
		os.Exit(1)
	}

	var extra []sync.ServiceOption
	if interactive() && !opts.Cleanup {
		extra = append(extra, sync.WithConfirm(Confirm(os.Stdin, os.Stdout)))
	}
	os.Exit(Run(context.Background(), opts, os.Stdout, extra...))
}
