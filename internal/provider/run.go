package provider

import (
	"context"

	"github.com/gridmesh/gridmesh/internal/backend"
	"github.com/gridmesh/gridmesh/internal/config"
	"github.com/gridmesh/gridmesh/internal/proto"
	"github.com/gridmesh/gridmesh/internal/relay"
	"github.com/gridmesh/gridmesh/internal/spi"
)

type senderFunc func(proto.Message) bool

func (f senderFunc) Send(msg proto.Message) bool { return f(msg) }

// Run starts the provider agent: local backend client, request relay,
// optional status and metrics servers, then the marketplace connection loop.
// It blocks until ctx is cancelled or a fatal error occurs.
func Run(ctx context.Context, cfg config.ProviderConfig) error {
	cfg.Finalize()

	var pricing *proto.Pricing
	if cfg.InputPrice > 0 || cfg.OutputPrice > 0 {
		pricing = &proto.Pricing{InputPrice: cfg.InputPrice, OutputPrice: cfg.OutputPrice}
	}
	tracker := NewTracker(cfg.ProviderID, cfg.ProviderName, pricing)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.StatusAddr != "" {
		if _, err := StartStatusServer(ctx, cfg.StatusAddr, tracker); err != nil {
			return err
		}
	}
	if cfg.MetricsAddr != "" {
		if _, err := StartMetricsServer(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
	}

	be := backend.New(cfg.BackendURL, cfg.BackendAPIKey)

	// The relay and the client reference each other: the relay sends its
	// outcome frames through the client, the client dispatches inbound
	// requests to the relay. The indirection breaks the construction order.
	var client *Client
	rly := relay.New(be, senderFunc(func(msg proto.Message) bool {
		return client.Send(msg)
	}), cfg.DefaultModel, cfg.RequestTimeout, tracker)

	client = NewClient(ClientConfig{
		ServerURL: cfg.ServerURL,
		Credential: Credential{
			Token:       cfg.Token,
			Protocol:    proto.Version,
			Pricing:     pricing,
			DisplayName: cfg.ProviderName,
			Description: cfg.Description,
		},
		Reconnect: cfg.Reconnect,
		Handler:   rly,
		Observer:  tracker,
		Descriptor: spi.Descriptor{
			ID:          cfg.ProviderID,
			Name:        cfg.ProviderName,
			Description: cfg.Description,
			Pricing:     pricing,
		},
	})
	return client.Run(ctx)
}
