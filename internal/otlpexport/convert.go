// Package otlpexport converts journal entries to OTLP log records and
// forwards them to an OTLP/gRPC collector.
package otlpexport

import (
	"fmt"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/journald-query/internal/logparse"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// ScopeName is the instrumentation scope stamped on exported records.
const ScopeName = "github.com/tinytelemetry/journald-query"

// Resource attribute keys.
const (
	AttrHostName    = "host.name"
	AttrServiceName = "service.name"
)

var severityNumbers = map[string]logspb.SeverityNumber{
	logparse.Trace: logspb.SeverityNumber_SEVERITY_NUMBER_TRACE,
	logparse.Debug: logspb.SeverityNumber_SEVERITY_NUMBER_DEBUG,
	logparse.Info:  logspb.SeverityNumber_SEVERITY_NUMBER_INFO,
	logparse.Warn:  logspb.SeverityNumber_SEVERITY_NUMBER_WARN,
	logparse.Error: logspb.SeverityNumber_SEVERITY_NUMBER_ERROR,
	logparse.Fatal: logspb.SeverityNumber_SEVERITY_NUMBER_FATAL,
}

// LogRecord converts one entry. Severity is inferred from the message text.
func LogRecord(e model.Entry) *logspb.LogRecord {
	sev := logparse.FromText(e.Message)
	nanos := e.TimestampUTC * 1000
	return &logspb.LogRecord{
		TimeUnixNano:         nanos,
		ObservedTimeUnixNano: nanos,
		SeverityNumber:       severityNumbers[sev],
		SeverityText:         sev,
		Body:                 stringValue(e.Message),
	}
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func resourceFor(hostname, unit string) *resourcepb.Resource {
	var attrs []*commonpb.KeyValue
	if hostname != "" {
		attrs = append(attrs, &commonpb.KeyValue{Key: AttrHostName, Value: stringValue(hostname)})
	}
	if unit != "" {
		attrs = append(attrs, &commonpb.KeyValue{Key: AttrServiceName, Value: stringValue(unit)})
	}
	return &resourcepb.Resource{Attributes: attrs}
}

// Request groups entries into one ResourceLogs per (hostname, unit), in
// order of first appearance, keeping entry order within each group.
func Request(entries []model.Entry) *collogspb.ExportLogsServiceRequest {
	type key struct{ host, unit string }
	index := make(map[key]*logspb.ScopeLogs)
	req := &collogspb.ExportLogsServiceRequest{}

	for _, e := range entries {
		k := key{e.Hostname, e.Unit}
		scope, ok := index[k]
		if !ok {
			scope = &logspb.ScopeLogs{Scope: &commonpb.InstrumentationScope{Name: ScopeName}}
			index[k] = scope
			req.ResourceLogs = append(req.ResourceLogs, &logspb.ResourceLogs{
				Resource:  resourceFor(e.Hostname, e.Unit),
				ScopeLogs: []*logspb.ScopeLogs{scope},
			})
		}
		scope.LogRecords = append(scope.LogRecords, LogRecord(e))
	}
	return req
}

// RecordCount returns the number of log records in req.
func RecordCount(req *collogspb.ExportLogsServiceRequest) int {
	n := 0
	for _, rl := range req.GetResourceLogs() {
		for _, sl := range rl.GetScopeLogs() {
			n += len(sl.GetLogRecords())
		}
	}
	return n
}

// MarshalJSON renders entries as an OTLP/JSON export request.
func MarshalJSON(entries []model.Entry) ([]byte, error) {
	b, err := protojson.Marshal(Request(entries))
	if err != nil {
		return nil, fmt.Errorf("otlpexport: marshal: %w", err)
	}
	return b, nil
}
