package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kbirk/pipc/pkg/ipc"
	"github.com/kbirk/pipc/pkg/log"
)

const (
	version = "0.0.1"
)

var (
	socketPath  string
	configPath  string
	platformDir string
	metricsAddr string
	timeout     time.Duration
	debug       bool
)

var (
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	white  = color.New(color.FgWhite, color.Bold).SprintFunc()
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func usage() {
	os.Stderr.WriteString(fmt.Sprintf("%s %s\n\n", white("pipc"), version))
	os.Stderr.WriteString("Usage: pipc [flags] <command> [args]\n\n")
	os.Stderr.WriteString("Commands:\n")
	os.Stderr.WriteString("  serve                     run a responder holding the platform lock\n")
	os.Stderr.WriteString("  call <method> [json]      make a request\n")
	os.Stderr.WriteString("  stream <method> [json]    open a stream and print every value\n")
	os.Stderr.WriteString("  shutdown                  stop the responder and wait for its lock\n\n")
	os.Stderr.WriteString("Flags:\n")
	flag.PrintDefaults()
}

func fail(format string, args ...any) {
	os.Stderr.WriteString(red("ERROR: ") + fmt.Sprintf(format, args...) + "\n")
	os.Exit(1)
}

func main() {

	flag.StringVar(&socketPath, "socket", "", "Unix socket path")
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&platformDir, "platform-dir", "", "Platform directory, defaults to the per-user pear directory")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Address to serve prometheus metrics on (serve only)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for client commands")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Usage = usage

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	logger, err := log.NewDevelopment(debug)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}

	conf := ipc.Config{
		Logger: logger,
	}
	if configPath != "" {
		fc, err := ipc.LoadFile(configPath)
		if err != nil {
			fail("Failed to load config: %v", err)
		}
		if err := fc.Apply(&conf); err != nil {
			fail("Invalid config: %v", err)
		}
	}
	if socketPath != "" {
		conf.SocketPath = socketPath
	}
	if platformDir != "" {
		conf.PlatformDir = platformDir
	}
	if conf.SocketPath == "" {
		fail("No `--socket` argument provided, set it with `--socket=\"<path>\"` or in the config file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "serve":
		err = serve(ctx, conf)
	case "call":
		err = withClient(ctx, conf, func(ctx context.Context, c *ipc.Conn) error {
			return call(ctx, c, args[1:])
		})
	case "stream":
		err = withClient(ctx, conf, func(ctx context.Context, c *ipc.Conn) error {
			return stream(ctx, c, args[1:])
		})
	case "shutdown":
		err = withClient(ctx, conf, func(ctx context.Context, c *ipc.Conn) error {
			if err := c.Shutdown(ctx); err != nil {
				return err
			}
			os.Stdout.WriteString(green("SUCCESS: ") + "Responder shut down\n")
			return nil
		})
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fail("%v", err)
	}
}

func serve(ctx context.Context, conf ipc.Config) error {
	lock, err := ipc.AcquirePrimary(ctx, conf)
	if err != nil {
		return fmt.Errorf("another platform process is running: %w", err)
	}
	defer lock.Release()

	reg := prometheus.NewRegistry()
	conf.Metrics = ipc.NewMetrics(reg)

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:    metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				os.Stderr.WriteString(yellow("WARN: ") + fmt.Sprintf("Metrics server stopped: %v\n", err))
			}
		}()
		defer srv.Close()
	}

	exit := make(chan struct{}, 1)
	conf.Handlers = ipc.Handlers{
		"versions": func(ctx context.Context, params any, c *ipc.Conn) (any, error) {
			return map[string]any{"pipc": version}, nil
		},
		"identify": func(ctx context.Context, params any, c *ipc.Conn) (any, error) {
			return map[string]any{"pid": os.Getpid(), "client": c.ID()}, nil
		},
		"shutdown": func(ctx context.Context, params any, c *ipc.Conn) (any, error) {
			select {
			case exit <- struct{}{}:
			default:
			}
			return nil, nil
		},
		"messages": func(ctx context.Context, params any, c *ipc.Conn) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				yield(params, nil)
			}
		},
	}
	conf.OnClient = func(c *ipc.Conn) {
		os.Stdout.WriteString(fmt.Sprintf("%s client %s connected\n", cyan("[ipc]"), white(c.ID())))
	}

	server, err := ipc.NewServer(conf)
	if err != nil {
		return err
	}
	if err := server.Ready(ctx); err != nil {
		server.Close()
		return err
	}
	os.Stdout.WriteString(green("SUCCESS: ") + fmt.Sprintf("Listening on %s\n", white(conf.SocketPath)))

	select {
	case <-ctx.Done():
	case <-exit:
	}
	return server.Close()
}

func withClient(ctx context.Context, conf ipc.Config, fn func(context.Context, *ipc.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ipc.NewClient(conf)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ready(ctx); err != nil {
		return err
	}
	return fn(ctx, client)
}

func parseParams(args []string) (string, any, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("no method given")
	}
	var params any
	if len(args) > 1 {
		if err := json.UnmarshalFromString(args[1], &params); err != nil {
			return "", nil, fmt.Errorf("params are not valid json: %w", err)
		}
	}
	return args[0], params, nil
}

func printValue(v any) error {
	out, err := json.MarshalToString(v)
	if err != nil {
		return err
	}
	os.Stdout.WriteString(out + "\n")
	return nil
}

func call(ctx context.Context, c *ipc.Conn, args []string) error {
	method, params, err := parseParams(args)
	if err != nil {
		return err
	}
	res, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	return printValue(res)
}

func stream(ctx context.Context, c *ipc.Conn, args []string) error {
	method, params, err := parseParams(args)
	if err != nil {
		return err
	}
	s, err := c.Stream(ctx, method, params)
	if err != nil {
		return err
	}
	for v, err := range s.All(ctx) {
		if err != nil {
			return err
		}
		if err := printValue(v); err != nil {
			return err
		}
	}
	return nil
}
