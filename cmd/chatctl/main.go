// Command chatctl is an interactive chat client.
//
// Usage:
//
//	chatctl [-config chat.toml] [-host localhost] [-port 16060] [-inproc] [-log-level info]
//
// Messages pushed by the server are printed as they arrive. Type "help" for
// the list of commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeycumines/go-chatloop"
	"github.com/joeycumines/go-chatloop/internal/chattest"
	"github.com/joeycumines/go-prompt"
)

const (
	defaultHost = "localhost"
	defaultPort = 16060
)

type cliOptions struct {
	configPath string
	host       string
	port       int
	logLevel   string
	inProcess  bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseCLIArgs(args []string, output io.Writer) (*cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("chatctl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&opts.host, "host", "", "server host, overrides the config file")
	fs.IntVar(&opts.port, "port", 0, "server port, overrides the config file")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config file")
	fs.BoolVar(&opts.inProcess, "inproc", false, "run against an in-process server")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return &opts, nil
}

// loadConfig merges the flags over the config file, which is optional.
func loadConfig(cli *cliOptions) (*chatloop.Config, error) {
	cfg, err := chatloop.LoadConfig(cli.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cli.host != "" {
		cfg.Host = cli.host
	}
	if cli.port != 0 {
		cfg.Port = cli.port
	}
	if cli.logLevel != "" {
		cfg.LogLevel = cli.logLevel
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	return cfg, nil
}

func run(args []string) error {
	cli, err := parseCLIArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, chatloop.WithLogger(logger))

	if cli.inProcess {
		transport, stop, err := chattest.New().Serve()
		if err != nil {
			return err
		}
		defer stop()
		opts = append(opts, chatloop.WithTransport(transport))
	}

	session, err := chatloop.Dial(cfg.Host, cfg.Port, opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	{
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := session.Connect(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", session.Target(), err)
		}
	}

	logger.Info().
		Str(`target`, session.Target()).
		Log(`chatctl: connected`)

	sh := newShell(session, os.Stdout)

	printed := make(chan error, 1)
	go func() {
		printed <- sh.printPushes(ctx)
	}()

	var quit bool
	p := prompt.New(
		func(line string) {
			q, err := sh.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
			quit = quit || q
		},
		prompt.WithPrefix("chat> "),
		prompt.WithTitle("chatctl"),
		prompt.WithCompleter(completer),
		prompt.WithExitChecker(func(in string, breakline bool) bool {
			return breakline && (quit || ctx.Err() != nil)
		}),
	)
	p.RunNoExit()

	stop()
	_ = session.Close()

	if err := <-printed; err != nil && !errors.Is(err, chatloop.ErrSessionClosed) && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
