package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// Version is set at build time via ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	envFile     string
	daemon      bool
	daemonChild bool
	display     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mud-agent",
		Short: "Keep a MUD session logged in and running in the background",
		Long: "mud-agent connects to a MUD server over telnet, logs in, records everything the " +
			"server sends to a transcript file, and forwards commands written to a named pipe " +
			"(or sent from the web viewer or Telegram) into the game.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with MUD_* settings")
	pf.String("dir", "", "directory for the transcript, command pipe, PID file and log (default: current directory)")
	pf.Bool("debug", false, "verbose operational logging")

	f := rootCmd.Flags()
	f.BoolVar(&opts.daemon, "daemon", false, "run in the background")
	f.BoolVar(&opts.daemonChild, "daemon-child", false, "")
	f.MarkHidden("daemon-child")
	f.BoolVar(&opts.display, "display", false, "echo the session to stdout even when it is not a terminal")
	f.String("web", "", "serve the live web viewer on this address (e.g. localhost:8080)")

	rootCmd.AddCommand(
		newStopCmd(opts),
		newStatusCmd(opts),
		newSendCmd(opts),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadViper reads the environment and the dotenv file and binds the
// command line flags that override them.
func loadViper(cmd *cobra.Command, opts *rootOptions) (*viper.Viper, error) {
	v, err := newViper(opts.envFile)
	if err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		keyDir:     "dir",
		keyDebug:   "debug",
		keyWebAddr: "web",
	} {
		if fl := cmd.Flags().Lookup(flag); fl != nil && fl.Changed {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, err
			}
		}
	}
	debugEnabled = v.GetBool(keyDebug)
	return v, nil
}

func runAgent(cmd *cobra.Command, opts *rootOptions) error {
	v, err := loadViper(cmd, opts)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(v)
	if err != nil {
		return err
	}
	if err := setRuntimeDir(cfg.Dir); err != nil {
		return err
	}

	if opts.daemon {
		return daemonize(cmd.OutOrStdout(), daemonChildArgs(os.Args[1:]))
	}

	if pid := runningPID(); pid != 0 {
		return fmt.Errorf("an agent is already running in %s (PID %d); use 'mud-agent stop' first", runtimeDir, pid)
	}

	logCloser, err := setupLogging(opts.daemonChild)
	if err != nil {
		return fmt.Errorf("cannot open log file: %w", err)
	}
	defer logCloser.Close()

	if err := writePIDFile(os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile()

	log.Printf("INFO: mud-agent %s starting (PID %d, dir %s)", version, os.Getpid(), runtimeDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var agent *Agent
	status := func() SessionStatus { return agent.Status() }

	var (
		display MultiSink
		sources []CommandSource
	)
	if opts.display || (!opts.daemonChild && term.IsTerminal(int(os.Stdout.Fd()))) {
		display = append(display, NewConsoleSink(cmd.OutOrStdout()))
	}

	if cfg.WebAddr != "" {
		viewer := NewWebViewer(cfg.WebAddr, cfg.WebUIPasswordHash, status)
		if _, err := viewer.Listen(); err != nil {
			return err
		}
		display = append(display, viewer)
		sources = append(sources, viewer)
	}

	fifo, err := OpenFIFO(fifoPath())
	if err != nil {
		log.Printf("WARN: Command pipe unavailable: %v", err)
	} else {
		sources = append(sources, fifo)
	}

	if !opts.daemonChild && term.IsTerminal(int(os.Stdin.Fd())) {
		sources = append(sources, NewConsoleSource(os.Stdin))
	}

	if cfg.TelegramToken != "" {
		bridge, err := NewTelegramBridge(cfg.TelegramToken, cfg.TelegramAllowedUsers, status)
		if err != nil {
			log.Printf("ERROR: Telegram bridge disabled: %v", err)
		} else {
			display = append(display, bridge)
			sources = append(sources, bridge)
		}
	}

	if len(sources) == 0 {
		return errors.New("no command source is available")
	}

	var sink OutputSink
	if len(display) > 0 {
		sink = display
	}
	agent = NewAgent(cfg, NewTranscript(transcriptPath()), sink)
	for _, src := range sources {
		agent.AddSource(src)
	}

	if !opts.daemonChild {
		printBanner(cmd.OutOrStdout(), cfg)
	}

	if err := agent.Run(ctx); err != nil {
		log.Printf("ERROR: %v", err)
		return err
	}
	log.Printf("INFO: mud-agent stopped")
	return nil
}

// daemonChildArgs returns the arguments for the background process: the
// same as ours without --daemon.
func daemonChildArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if arg == "--daemon" || strings.HasPrefix(arg, "--daemon=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// useRuntimeDir points the runtime file helpers at the configured directory
// without requiring credentials.
func useRuntimeDir(cmd *cobra.Command, opts *rootOptions) error {
	v, err := loadViper(cmd, opts)
	if err != nil {
		return err
	}
	runtimeDir = resolveDir(v)
	return nil
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := useRuntimeDir(cmd, opts); err != nil {
				return err
			}
			return daemonStop(cmd.OutOrStdout())
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an agent is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := useRuntimeDir(cmd, opts); err != nil {
				return err
			}
			return daemonStatus(cmd.OutOrStdout())
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command...>",
		Short: "Send a command to the running agent's session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := useRuntimeDir(cmd, opts); err != nil {
				return err
			}
			return sendToFIFO(fifoPath(), strings.Join(args, " "))
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for MUD_WEBUI_PASSWORD_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password []byte
			if len(args) == 1 {
				password = []byte(args[0])
			} else {
				var err error
				if password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			if len(password) == 0 {
				return errors.New("password is empty")
			}
			hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return err
		},
	}
}

// readPassword prompts with echo disabled on a terminal, or reads one line
// from piped input.
func readPassword(in io.Reader, prompt io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return password, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mud-agent %s\n", version)
			return err
		},
	}
}
