package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jguan/solverd/pkg/config"
	"github.com/jguan/solverd/pkg/daemon"
	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/logger"
	"github.com/jguan/solverd/pkg/service"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	opts      *OutputOptions
	formatStr string

	// hooks replaced by tests
	serviceOptions    []service.Option
	supervisorOptions []daemon.Option
	executable        func() (string, error)
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts:       NewOutputOptions(),
		executable: os.Executable,
	}

	cmd := &cobra.Command{
		Use:   "solverd",
		Short: "solverd - image challenge solver",
		Long: `solverd answers image challenges with ONNX classifiers.

It downloads and caches the classifier models from a release repository
or an object-storage bucket, keeps them current, and runs as a
supervised background daemon.`,
		PersistentPreRunE: root.persistentPreRunE,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (TOML)")

	bindFlags(pflags, "output", "quiet", "config")

	root.cmd = cmd
	root.addSubCommands()

	return root
}

func bindFlags(fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		viper.BindPFlag(name, fs.Lookup(name))
	}
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	cfg, err := config.Load(r.configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg

	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	return nil
}

// configPath returns the --config flag as an absolute path so a daemon
// started from another directory reads the same file.
func (r *RootCommand) configPath() string {
	path := viper.GetString("config")
	if path == "" {
		if f := r.cmd.PersistentFlags().Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewRunCommand(r))
	r.cmd.AddCommand(NewStartCommand(r))
	r.cmd.AddCommand(NewStopCommand(r))
	r.cmd.AddCommand(NewRestartCommand(r))
	r.cmd.AddCommand(NewStatusCommand(r))
	r.cmd.AddCommand(NewLogCommand(r))
	r.cmd.AddCommand(NewFetchCommand(r))
	r.cmd.AddCommand(NewModelsCommand(r))
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w interface{ Write([]byte) (int, error) }) {
	r.opts.Writer = w
}

// Service builds the solver service from the loaded configuration.
func (r *RootCommand) Service(ctx context.Context) (*service.SolverService, error) {
	opts := append([]service.Option{service.WithVersion(cliVersion)}, r.serviceOptions...)
	return service.New(ctx, r.cfg, opts...)
}

// Supervisor returns the daemon supervisor for the configured files.
func (r *RootCommand) Supervisor() *daemon.Supervisor {
	d := r.cfg.Daemon
	opts := append([]daemon.Option{daemon.WithOutput(r.opts.Writer)}, r.supervisorOptions...)
	return daemon.New(daemon.Paths{
		PIDFile:    d.PIDFile,
		StdoutFile: d.StdoutFile,
		StderrFile: d.StderrFile,
	}, d.StopAttempts, d.StopIntervalD, opts...)
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		reportError(root, err)
		os.Exit(1)
	}
}

func reportError(root *RootCommand, err error) {
	if errors.Is(err, errs.ErrPermissionDenied) {
		fmt.Fprintln(root.opts.Writer, "You must run this executable with root permissions")
		return
	}
	PrintError(err, root.opts)
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}

func GetBuildDate() string {
	return cliBuildDate
}

func GetGitCommit() string {
	return cliGitCommit
}
