package model

import "context"

// JournalReader is the one-shot read contract shared by the library facade,
// the HTTP API and the socket RPC client.
type JournalReader interface {
	DiscoverHosts(ctx context.Context) ([]string, error)
	DiscoverUnits(ctx context.Context) ([]string, error)
	DiscoverHostsAndUnits(ctx context.Context) (hosts, units []string, err error)
	DiscoverServices(ctx context.Context) (Hosts, error)
	Query(ctx context.Context, q Query) ([]Entry, error)
}
