package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opnsensectl/internal/config"
	"opnsensectl/internal/fault"
	"opnsensectl/internal/logging"
	"opnsensectl/internal/opnsense"
	"opnsensectl/internal/prompt"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	in     prompt.Provider

	configPath string
	outputDir  string
	logFile    string
	debug      bool

	cfg      config.Config
	log      *zap.Logger
	closeLog func() error
}

// NewRootCmd returns the root cobra command for the opnsensectl CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd, _ := newRootCmd(stdout, stderr, prompt.NewConsole(os.Stdin, stdout))
	return cmd
}

func newRootCmd(stdout, stderr io.Writer, in prompt.Provider) (*cobra.Command, *app) {
	a := &app{
		stdout:   stdout,
		stderr:   stderr,
		in:       in,
		log:      zap.NewNop(),
		closeLog: func() error { return nil },
	}

	cmd := &cobra.Command{
		Use:           "opnsensectl",
		Short:         "Back up, restore and check an OPNsense firewall through its API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(a.logWriter(cmd))
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default $"+config.EnvConfig+" or ./"+config.DefaultPath+")")
	pf.StringVar(&a.outputDir, "output-dir", "", "Directory for backups (default \""+config.DefaultOutputDir+"\")")
	pf.StringVar(&a.logFile, "log-file", "", "Log file (default \""+logging.DefaultFile+"\")")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newCheckCmd(a),
		newAPICmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newListCmd(a),
		newPruneCmd(a),
		newStatusCmd(a),
		newPingCmd(a),
	)
	return cmd, a
}

// logWriter picks the console log sink. Commands printing JSON keep stdout
// for the document and log to stderr.
func (a *app) logWriter(cmd *cobra.Command) io.Writer {
	if f := cmd.Flags().Lookup("output"); f != nil && f.Value.String() == "json" {
		return a.stderr
	}
	return a.stdout
}

// setup loads the configuration and builds the logger.
func (a *app) setup(logOut io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.outputDir != "" {
		cfg.OutputDir = a.outputDir
	}
	if a.logFile != "" {
		cfg.LogFile = a.logFile
	}
	a.cfg = cfg

	log, closeLog, err := logging.New(logging.Options{File: cfg.LogFile, Debug: a.debug, Stdout: logOut})
	if err != nil {
		return fault.LocalIO(err, "pass --log-file with a writable path")
	}
	a.log, a.closeLog = log, closeLog
	return nil
}

func (a *app) close() {
	_ = a.log.Sync()
	_ = a.closeLog()
}

// connect resolves the credentials, prompting for what is missing, and
// opens a verified session.
func (a *app) connect(ctx context.Context) (*opnsense.Session, error) {
	creds, err := config.ResolveCredentials(a.cfg, a.in)
	if err != nil {
		return nil, err
	}
	return opnsense.NewSession(ctx, creds, opnsense.WithLogger(a.log))
}

// run executes the CLI with args and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, in prompt.Provider) int {
	root, a := newRootCmd(stdout, stderr, in)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.close()

	if err == nil || errors.Is(err, fault.ErrCancelled) {
		return 0
	}
	fmt.Fprintln(stderr, "Error:", err)
	if hint := fault.Hint(err); hint != "" {
		fmt.Fprintln(stderr, "Hint:", hint)
	}
	return fault.ExitCode(err)
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr, prompt.Stdio())
}
