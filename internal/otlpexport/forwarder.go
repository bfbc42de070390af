package otlpexport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/tail"
)

const (
	DefaultBatchSize     = 512
	DefaultFlushInterval = time.Second
	DefaultExportTimeout = 10 * time.Second
)

var (
	exportedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_query_otlp_records_total",
		Help: "Log records sent to the OTLP collector by result",
	}, []string{"result"})

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journald_query_otlp_export_duration_seconds",
		Help:    "OTLP export call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})
)

// Options tunes a Forwarder. Zero values select the defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
}

// Forwarder batches entries into OTLP export calls.
type Forwarder struct {
	client collogspb.LogsServiceClient
	opts   Options
}

// Dial opens an insecure gRPC connection to an OTLP collector.
func Dial(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otlpexport: dial %s: %w", endpoint, err)
	}
	return conn, nil
}

func NewForwarder(conn grpc.ClientConnInterface, opts Options) *Forwarder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultExportTimeout
	}
	return &Forwarder{client: collogspb.NewLogsServiceClient(conn), opts: opts}
}

// Export sends entries in a single call.
func (f *Forwarder) Export(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.client.Export(ctx, Request(entries))
	exportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		exportedRecords.WithLabelValues("error").Add(float64(len(entries)))
		return fmt.Errorf("otlpexport: export: %w", err)
	}
	rejected := resp.GetPartialSuccess().GetRejectedLogRecords()
	if rejected > 0 {
		log.Printf("otlpexport: collector rejected %d records: %s", rejected, resp.GetPartialSuccess().GetErrorMessage())
		exportedRecords.WithLabelValues("rejected").Add(float64(rejected))
	}
	exportedRecords.WithLabelValues("ok").Add(float64(int64(len(entries)) - rejected))
	return nil
}

// Run exports entries read from in, flushing when a batch fills or the
// flush interval passes. It returns after in is closed and the final batch
// is sent, or when ctx is done.
func (f *Forwarder) Run(ctx context.Context, in <-chan model.Entry) error {
	ticker := time.NewTicker(f.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Entry, 0, f.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := f.Export(ctx, batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-in:
			if !ok {
				return flush()
			}
			batch = append(batch, e)
			if len(batch) >= f.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// ForwardTail exports everything t produces until ctx is done or the tail
// stops with an error. The tail is read on its own goroutine and is not
// closed.
func (f *Forwarder) ForwardTail(ctx context.Context, t *tail.Tail) error {
	g, gctx := errgroup.WithContext(ctx)
	entries := make(chan model.Entry, f.opts.BatchSize)

	g.Go(func() error {
		defer close(entries)
		for {
			e, err := t.Next(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case entries <- e:
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		err := f.Run(gctx, entries)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}
