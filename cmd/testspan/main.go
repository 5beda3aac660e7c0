// Development harness for test span instrumentation
// Replays scripted suites through the runner adapters and reports on exported spans
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/andrewh/testspan/pkg/replay"
	"github.com/andrewh/testspan/pkg/testspan"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "testspan",
		Short:        "Test span instrumentation harness",
		SilenceUsage: true,
	}

	root.AddCommand(replayCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(versionCmd())

	return root
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Replay a scripted test run and export its test spans",
		Long: "Replay a scripted test run and export its test spans.\n\n" +
			"Every flag can also be set in the file named by --config or through a\n" +
			"TESTSPAN_ environment variable (e.g. TESTSPAN_ENDPOINT). When TRACEPARENT\n" +
			"holds a W3C trace context, test spans become children of that span.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing replay script\n\nUsage: testspan replay <script.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadReplayOptions(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("slow-threshold") && !strings.Contains(opts.signals, "logs") {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: --slow-threshold has no effect without --signals logs")
			}
			return runReplay(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().String("config", "", "YAML file providing flag values")
	cmd.Flags().String("endpoint", "", "OTLP endpoint (e.g. localhost:4318)")
	cmd.Flags().Bool("stdout", false, "emit signals to stdout as JSON")
	cmd.Flags().String("protocol", "http/protobuf", "OTLP protocol (http/protobuf or grpc)")
	cmd.Flags().String("signals", "traces", "comma-separated signals to emit: traces,metrics,logs")
	cmd.Flags().Duration("slow-threshold", time.Second, "duration above which a passing test is logged as slow")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus test metrics on this address (e.g. :9464)")
	cmd.Flags().String("framework", "jest", "test framework name recorded on spans")
	cmd.Flags().String("service", "testspan", "service.name resource attribute")
	cmd.Flags().StringSlice("tag", nil, "extra span attribute as key=value (repeatable)")
	cmd.Flags().Bool("verbose", false, "log instrumentation diagnostics to stderr")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script.yaml>",
		Short: "Parse and validate a replay script",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing replay script\n\nUsage: testspan validate <script.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := replay.LoadScript(args[0])
			if err != nil {
				return err
			}
			if err := replay.ValidateScript(script); err != nil {
				return err
			}
			tests := 0
			for _, s := range script.Suites {
				tests += len(s.Tests)
			}
			suiteLabel := "suites"
			if len(script.Suites) == 1 {
				suiteLabel = "suite"
			}
			testLabel := "tests"
			if tests == 1 {
				testLabel = "test"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Script valid: %d %s, %d %s (%s model)\n\n"+
				"To replay it:\n"+
				"  testspan replay --stdout %s\n",
				len(script.Suites), suiteLabel, tests, testLabel, script.Model, args[0])
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "testspan %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}

type replayOptions struct {
	endpoint      string
	stdout        bool
	protocol      string
	signals       string
	slowThreshold time.Duration
	metricsAddr   string
	framework     string
	service       string
	tags          []string
	verbose       bool
}

// loadReplayOptions merges flags, TESTSPAN_ environment variables and the
// optional config file. Explicit flags win over the environment, which wins
// over the file.
func loadReplayOptions(cmd *cobra.Command) (replayOptions, error) {
	v := viper.New()
	v.SetEnvPrefix("TESTSPAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return replayOptions{}, fmt.Errorf("binding flags: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return replayOptions{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return replayOptions{
		endpoint:      v.GetString("endpoint"),
		stdout:        v.GetBool("stdout"),
		protocol:      v.GetString("protocol"),
		signals:       v.GetString("signals"),
		slowThreshold: v.GetDuration("slow-threshold"),
		metricsAddr:   v.GetString("metrics-addr"),
		framework:     v.GetString("framework"),
		service:       v.GetString("service"),
		tags:          v.GetStringSlice("tag"),
		verbose:       v.GetBool("verbose"),
	}, nil
}

var validSignals = map[string]bool{
	"traces":  true,
	"metrics": true,
	"logs":    true,
}

var validProtocols = map[string]bool{
	"http/protobuf": true,
	"grpc":          true,
}

func validateProtocol(p string) error {
	if !validProtocols[p] {
		return fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", p)
	}
	return nil
}

func parseSignals(s string) (map[string]bool, error) {
	set := make(map[string]bool)
	for _, sig := range strings.Split(s, ",") {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		if !validSignals[sig] {
			return nil, fmt.Errorf("unknown signal %q, valid signals: traces, metrics, logs", sig)
		}
		set[sig] = true
	}
	return set, nil
}

func parseTags(tags []string) ([]attribute.KeyValue, error) {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for _, tag := range tags {
		k, v, ok := strings.Cut(tag, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, want key=value", tag)
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs, nil
}

// parentCarrier reads the W3C trace context handed down by the process that
// launched the run, or nil when there is none.
func parentCarrier() propagation.TextMapCarrier {
	tp := os.Getenv("TRACEPARENT")
	if tp == "" {
		return nil
	}
	carrier := propagation.MapCarrier{"traceparent": tp}
	if ts := os.Getenv("TRACESTATE"); ts != "" {
		carrier["tracestate"] = ts
	}
	return carrier
}

const (
	shutdownTimeout     = 5 * time.Second
	connectCheckTimeout = 2 * time.Second
	defaultHTTPPort     = "4318"
	defaultGRPCPort     = "4317"
)

func checkEndpoint(endpoint, protocol, scriptPath string) error {
	port := defaultHTTPPort
	if protocol == "grpc" {
		port = defaultGRPCPort
	}
	host := endpoint
	if host == "" {
		host = "localhost:" + port
	} else if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, port)
	}

	conn, err := net.DialTimeout("tcp", host, connectCheckTimeout)
	if err != nil {
		return fmt.Errorf("cannot reach OTLP collector at %s\n\n"+
			"To emit spans as JSON to the terminal, use --stdout:\n"+
			"  testspan replay --stdout %s\n\n"+
			"To send to a specific collector, use --endpoint:\n"+
			"  testspan replay --endpoint collector.example.com:4318 %s", host, scriptPath, scriptPath)
	}
	_ = conn.Close()
	return nil
}

func runReplay(ctx context.Context, scriptPath string, opts replayOptions, stdout, stderr io.Writer) error {
	script, err := replay.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	if err := replay.ValidateScript(script); err != nil {
		return err
	}
	if opts.slowThreshold < 0 {
		return fmt.Errorf("--slow-threshold must not be negative, got %s", opts.slowThreshold)
	}
	enabledSignals, err := parseSignals(opts.signals)
	if err != nil {
		return err
	}
	if err := validateProtocol(opts.protocol); err != nil {
		return err
	}
	tags, err := parseTags(opts.tags)
	if err != nil {
		return err
	}
	if !opts.stdout {
		if err := checkEndpoint(opts.endpoint, opts.protocol, scriptPath); err != nil {
			return err
		}
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.service),
		attribute.String("testspan.version", version),
	))
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}

	sigs := signalOptions{endpoint: opts.endpoint, stdout: opts.stdout, protocol: opts.protocol, out: stdout}

	tp, err := createTracerProvider(ctx, sigs, enabledSignals["traces"], res)
	if err != nil {
		return fmt.Errorf("creating tracer provider: %w", err)
	}
	defer shutdownWithin(tp, "tracer provider", stderr)

	var observers []testspan.Observer

	if enabledSignals["metrics"] {
		mp, mErr := createMeterProvider(ctx, sigs, res)
		if mErr != nil {
			return fmt.Errorf("creating meter provider: %w", mErr)
		}
		defer shutdownWithin(mp, "meter provider", stderr)
		obs, mErr := testspan.NewMetricObserver(mp)
		if mErr != nil {
			return fmt.Errorf("creating metric observer: %w", mErr)
		}
		observers = append(observers, obs)
	}

	if enabledSignals["logs"] {
		lp, lErr := createLoggerProvider(ctx, sigs, res)
		if lErr != nil {
			return fmt.Errorf("creating logger provider: %w", lErr)
		}
		defer shutdownWithin(lp, "logger provider", stderr)
		observers = append(observers, testspan.NewLogObserver(lp, opts.slowThreshold))
	}

	if opts.metricsAddr != "" {
		obs, stop, pErr := servePrometheus(opts.metricsAddr, stderr)
		if pErr != nil {
			return pErr
		}
		defer stop()
		observers = append(observers, obs)
	}

	tracer, err := testspan.NewTracer(testspan.Config{
		Provider:  tp,
		Framework: opts.framework,
		Metadata:  tags,
		Parent:    parentCarrier(),
		Observers: observers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &replay.Runner{Script: script, Tracer: tracer, Logger: logger}
	stats, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(stderr).Encode(stats)
}

// servePrometheus exposes test metrics on addr until the returned stop is called.
func servePrometheus(addr string, stderr io.Writer) (*testspan.PrometheusObserver, func(), error) {
	reg := prometheus.NewRegistry()
	obs, err := testspan.NewPrometheusObserver(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus observer: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "metrics server error: %v\n", err)
		}
	}()
	_, _ = fmt.Fprintf(stderr, "serving test metrics on http://%s/metrics\n", ln.Addr())

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return obs, stop, nil
}
