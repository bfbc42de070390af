package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/journald-query/internal/duckdb"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/otlpexport"
	"github.com/tinytelemetry/journald-query/internal/reader"
	"github.com/tinytelemetry/journald-query/internal/socketrpc"
	"github.com/tinytelemetry/journald-query/internal/tail"
	"github.com/tinytelemetry/journald-query/internal/timestamp"
)

// newRootCmd builds the command tree. It is rebuilt per test so flag state
// never leaks between runs.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "journald-query",
		Short:         "Query, discover and tail systemd journals",
		Long:          "journald-query reads systemd journal directories, journal files and journalctl JSON exports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default is $HOME/.config/journald-query/config.yml)")
	pf.StringP("directory", "D", model.DefaultJournalDir, "journal directory")
	pf.StringSliceP("files", "f", nil, "journal files or journalctl -o json exports (.json, .jsonl, optionally .zst)")
	pf.StringP("format", "o", defaultFormat, "output format: table|json|yaml|otlp")
	pf.String("socket-path", socketrpc.DefaultSocketPath(), "Unix socket of a running server")
	pf.Bool("via-socket", false, "answer one-shot commands through the server socket instead of reading the journal")

	root.AddCommand(
		newHostsCmd(),
		newUnitsCmd(),
		newHostsUnitsCmd(),
		newServicesCmd(),
		newQueryCmd(),
		newTailCmd(),
		newForwardCmd(),
		newExportCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

func configFor(cmd *cobra.Command) (appConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path, cmd.Flags())
}

// openReader returns the local reader, or a socket client when via-socket
// is set.
func openReader(cfg appConfig) (model.JournalReader, func(), error) {
	if cfg.ViaSocket {
		c, err := socketrpc.Dial(cfg.SocketPath)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	return reader.New(nil, cfg.location(), cfg.discoverOptions()), func() {}, nil
}

// withReader loads the configuration and runs fn with a reader and a
// context bounded by query-timeout.
func withReader(cmd *cobra.Command, fn func(ctx context.Context, cfg appConfig, r model.JournalReader) error) error {
	cfg, err := configFor(cmd)
	if err != nil {
		return err
	}
	r, closeReader, err := openReader(cfg)
	if err != nil {
		return err
	}
	defer closeReader()

	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeoutOr(cfg.QueryTimeout))
	defer cancel()
	return fn(ctx, cfg, r)
}

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List every hostname in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, cfg appConfig, r model.JournalReader) error {
				hosts, err := r.DiscoverHosts(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Format).list("Hosts", hosts)
			})
		},
	}
}

func newUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List every systemd unit in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, cfg appConfig, r model.JournalReader) error {
				units, err := r.DiscoverUnits(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Format).list("Units", units)
			})
		},
	}
}

func newHostsUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts-units",
		Short: "List hostnames and units in one pass over a single handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, cfg appConfig, r model.JournalReader) error {
				hosts, units, err := r.DiscoverHostsAndUnits(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Format).hostsAndUnits(hosts, units)
			})
		},
	}
}

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List the units that logged on each host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withReader(cmd, func(ctx context.Context, cfg appConfig, r model.JournalReader) error {
				hosts, err := r.DiscoverServices(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Format).services(hosts)
			})
		},
	}
	cmd.Flags().String("strategy", defaultStrategy, "correlation strategy: cross-probe|full-scan")
	cmd.Flags().Int("discover-workers", model.DefaultDiscoverWorkers, "journal handles used by cross-probe")
	return cmd
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("since", "", "start of the range, inclusive (default 1h ago)")
	cmd.Flags().String("until", "now", "end of the range, inclusive")
	cmd.Flags().StringP("hostname", "H", "", "only entries from this host")
	cmd.Flags().StringP("unit", "u", "", "only entries from this systemd unit")
	cmd.Flags().StringP("grep", "g", "", "only entries whose message contains this text (case-sensitive)")
}

// buildQuery reads the range and filter flags added by addQueryFlags.
func buildQuery(cmd *cobra.Command, p *timestamp.Parser) (model.Query, error) {
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	hostname, _ := cmd.Flags().GetString("hostname")
	unit, _ := cmd.Flags().GetString("unit")
	grep, _ := cmd.Flags().GetString("grep")

	end, err := p.ParseUsec(until)
	if err != nil {
		return model.Query{}, fmt.Errorf("invalid --until: %w", err)
	}
	var start uint64
	if since == "" {
		start = model.TimeToUsec(p.Now().Add(-defaultQueryLookback))
	} else if start, err = p.ParseUsec(since); err != nil {
		return model.Query{}, fmt.Errorf("invalid --since: %w", err)
	}
	return model.NewQuery(start, end).WithHostname(hostname).WithUnit(unit).WithMessageContains(grep), nil
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the entries of a time range, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := buildQuery(cmd, timestamp.NewParser())
			if err != nil {
				return err
			}
			return withReader(cmd, func(ctx context.Context, cfg appConfig, r model.JournalReader) error {
				entries, err := r.Query(ctx, q)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Format).entries(entries)
			})
		},
	}
	addQueryFlags(cmd)
	return cmd
}

func addTailFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("hostname", "H", "", "only entries from this host")
	cmd.Flags().StringP("unit", "u", "", "only entries from this systemd unit")
	cmd.Flags().Duration("poll-interval", model.DefaultPollInterval, "sleep between polls while no entry is available")
	cmd.Flags().Duration("start-offset", model.DefaultStartOffset, "how far before now the tail starts")
}

func openTail(cmd *cobra.Command, cfg appConfig) (*tail.Tail, error) {
	hostname, _ := cmd.Flags().GetString("hostname")
	unit, _ := cmd.Flags().GetString("unit")
	tc := model.NewTailConfig(hostname, unit, cfg.location()).
		WithPollInterval(cfg.PollInterval).
		WithStartOffset(cfg.StartOffset)
	return tail.Open(tc)
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow new entries as they are written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("max")

			t, err := openTail(cmd, cfg)
			if err != nil {
				return err
			}
			defer t.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			out := newPrinter(cmd.OutOrStdout(), cfg.Format)
			seen := 0
			for e, err := range t.All(ctx) {
				if err != nil {
					return err
				}
				if err := out.entry(e); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					break
				}
			}
			return nil
		},
	}
	addTailFlags(cmd)
	cmd.Flags().IntP("max", "n", 0, "exit after this many entries (0 = follow forever)")
	return cmd
}

func newForwardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Tail the journal into an OTLP/gRPC collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			if cfg.OTLPEndpoint == "" {
				return fmt.Errorf("forward: --otlp-endpoint is required")
			}

			conn, err := otlpexport.Dial(cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer conn.Close()

			t, err := openTail(cmd, cfg)
			if err != nil {
				return err
			}
			defer t.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			fwd := otlpexport.NewForwarder(conn, cfg.otlpOptions())
			fmt.Fprintf(cmd.ErrOrStderr(), "forwarding to %s\n", cfg.OTLPEndpoint)
			return fwd.ForwardTail(ctx, t)
		},
	}
	addTailFlags(cmd)
	cmd.Flags().String("otlp-endpoint", "", "OTLP/gRPC collector address, e.g. localhost:4317")
	cmd.Flags().Int("otlp-batch-size", defaultOTLPBatch, "records per export call")
	cmd.Flags().Duration("otlp-flush-interval", defaultOTLPFlush, "flush a partial batch after this long")
	return cmd
}

func (c appConfig) otlpOptions() otlpexport.Options {
	return otlpexport.Options{
		BatchSize:     c.OTLPBatchSize,
		FlushInterval: c.OTLPFlushInterval,
		Timeout:       c.OTLPTimeout,
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the entries of a time range into a DuckDB file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := buildQuery(cmd, timestamp.NewParser())
			if err != nil {
				return err
			}
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			top, _ := cmd.Flags().GetInt("top")

			store, err := duckdb.Open(cfg.DBPath, queryTimeoutOr(cfg.QueryTimeout))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			written, err := exportRange(ctx, cfg, q, store)
			if err != nil {
				return err
			}
			total, err := store.EntryCount(ctx)
			if err != nil {
				return err
			}
			units, err := store.TopUnits(ctx, top)
			if err != nil {
				return err
			}
			return printExportSummary(cmd.OutOrStdout(), cfg.Format, shortenPath(store.Path()), written, total, units)
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().String("db-path", "", "DuckDB file (default $HOME/.local/share/journald-query/journald-query.duckdb)")
	cmd.Flags().Int("insert-batch-size", defaultInsertBatch, "entries per insert transaction")
	cmd.Flags().Int("top", 10, "units listed in the summary")
	return cmd
}

// exportRange streams the query result into store through a Sink.
func exportRange(ctx context.Context, cfg appConfig, q model.Query, store *duckdb.Store) (int, error) {
	r := reader.New(nil, cfg.location(), cfg.discoverOptions())
	sink := store.NewSink(ctx, cfg.InsertBatchSize)
	if err := r.Scan(ctx, q, sink.Add); err != nil {
		return sink.Written(), err
	}
	if err := sink.Flush(); err != nil {
		return sink.Written(), err
	}
	return sink.Written(), nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the socket RPC API and live tails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFor(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Bool("api-enabled", true, "serve the HTTP API")
	cmd.Flags().String("api-addr", "", "HTTP listen address (default 127.0.0.1:3000)")
	cmd.Flags().Bool("socket-enabled", true, "serve JSON-RPC on the Unix socket")
	cmd.Flags().String("otlp-endpoint", "", "also forward every new entry to this OTLP/gRPC collector")
	cmd.Flags().String("strategy", defaultStrategy, "correlation strategy: cross-probe|full-scan")
	cmd.Flags().Int("discover-workers", model.DefaultDiscoverWorkers, "journal handles used by cross-probe")
	cmd.Flags().Duration("poll-interval", model.DefaultPollInterval, "tail poll interval")
	cmd.Flags().Duration("start-offset", model.DefaultStartOffset, "how far before now a new tail starts")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "journald-query - systemd journal query engine\n")
			fmt.Fprintf(w, "  Version:    %s\n", version)
			fmt.Fprintf(w, "  Commit:     %s\n", commit)
			fmt.Fprintf(w, "  Built:      %s\n", buildTime)
			fmt.Fprintf(w, "  Go version: %s\n", goVersion)
		},
	}
}

// queryTimeoutOr returns d, or the default when d is not positive.
func queryTimeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultQueryTimeout
	}
	return d
}
