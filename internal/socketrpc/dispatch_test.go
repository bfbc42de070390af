package socketrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// stubReader returns fixed values for dispatch unit testing.
type stubReader struct {
	lastQuery model.Query
	queryErr  error
}

func (r *stubReader) DiscoverHosts(ctx context.Context) ([]string, error) {
	return []string{"web-server"}, nil
}
func (r *stubReader) DiscoverUnits(ctx context.Context) ([]string, error) {
	return []string{"nginx.service"}, nil
}
func (r *stubReader) DiscoverHostsAndUnits(ctx context.Context) ([]string, []string, error) {
	return []string{"web-server"}, nil, nil
}
func (r *stubReader) DiscoverServices(ctx context.Context) (model.Hosts, error) {
	return model.Hosts{Hosts: []model.Host{{Hostname: "web-server", Units: []string{"nginx.service"}}}}, nil
}
func (r *stubReader) Query(ctx context.Context, q model.Query) ([]model.Entry, error) {
	r.lastQuery = q
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return []model.Entry{{Hostname: q.Hostname, TimestampUTC: q.StartUsec, Message: "hello"}}, nil
}

func TestDispatch_AllMethods(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubReader{})

	tests := []struct {
		method string
		params string
	}{
		{"DiscoverHosts", ``},
		{"DiscoverUnits", `{}`},
		{"DiscoverHostsAndUnits", `null`},
		{"DiscoverServices", ``},
		{"Query", `{"Query":{"start_time_utc":1,"end_time_utc":2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			req := Request{
				JSONRPC: "2.0",
				ID:      1,
				Method:  tt.method,
				Params:  json.RawMessage(tt.params),
			}
			resp := srv.dispatch(context.Background(), req)
			if resp.Error != nil {
				t.Fatalf("dispatch(%s) error: %s", tt.method, resp.Error.Message)
			}
			if resp.Result == nil {
				t.Fatalf("dispatch(%s) returned nil result", tt.method)
			}
			if resp.JSONRPC != "2.0" {
				t.Errorf("JSONRPC = %q, want 2.0", resp.JSONRPC)
			}
			if resp.ID != 1 {
				t.Errorf("ID = %d, want 1", resp.ID)
			}
		})
	}
}

func TestDispatch_HostsAndUnitsNeverNull(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubReader{})

	resp := srv.dispatch(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "DiscoverHostsAndUnits"})
	if resp.Error != nil {
		t.Fatalf("dispatch: %s", resp.Error.Message)
	}
	if got := string(resp.Result); got != `{"hosts":["web-server"],"units":[]}` {
		t.Fatalf("result = %s", got)
	}
}

func TestDispatch_QueryDecodesFilters(t *testing.T) {
	t.Parallel()
	stub := &stubReader{}
	srv := NewServer("", stub)

	resp := srv.dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "Query",
		Params: json.RawMessage(`{"Query":{"start_time_utc":10,"end_time_utc":20,` +
			`"hostname":"web-server","unit":"nginx.service","message_contains":"GET"}}`),
	})
	if resp.Error != nil {
		t.Fatalf("dispatch: %s", resp.Error.Message)
	}
	want := model.NewQuery(10, 20).WithHostname("web-server").WithUnit("nginx.service").WithMessageContains("GET")
	if stub.lastQuery != want {
		t.Fatalf("query = %+v, want %+v", stub.lastQuery, want)
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubReader{})

	resp := srv.dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "NonExistentMethod",
		Params:  json.RawMessage(`{}`),
	})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}

func TestDispatch_InvalidParams(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubReader{})

	for _, params := range []string{``, `not json`, `{}`, `{"Query":"x"}`} {
		resp := srv.dispatch(context.Background(), Request{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "Query",
			Params:  json.RawMessage(params),
		})
		if resp.Error == nil {
			t.Fatalf("params %q: expected error", params)
		}
		if resp.Error.Code != -32602 {
			t.Errorf("params %q: error code = %d, want -32602 (invalid params)", params, resp.Error.Code)
		}
	}
}

func TestDispatch_ApplicationErrorCarriesKind(t *testing.T) {
	t.Parallel()
	stub := &stubReader{queryErr: fmt.Errorf("query: %w", journal.FromErrno("add match", -22))}
	srv := NewServer("", stub)

	resp := srv.dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "Query",
		Params:  json.RawMessage(`{"Query":{"start_time_utc":0,"end_time_utc":1}}`),
	})
	if resp.Error == nil {
		t.Fatal("expected application error")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("error code = %d, want -32000", resp.Error.Code)
	}
	if resp.Error.Data == nil || resp.Error.Data.Kind != journal.KindInvalidArgument {
		t.Fatalf("data = %+v, want kind invalid argument", resp.Error.Data)
	}
}

func TestDispatch_PreservesRequestID(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubReader{})

	for _, id := range []int{0, 1, 42, 9999} {
		resp := srv.dispatch(context.Background(), Request{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "DiscoverHosts",
		})
		if resp.ID != id {
			t.Errorf("request ID %d: response ID = %d", id, resp.ID)
		}
	}
}
