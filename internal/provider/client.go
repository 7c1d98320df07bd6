// Package provider maintains the authenticated connection between a compute
// provider and the marketplace server.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/gridmesh/gridmesh/core/backoff"
	"github.com/gridmesh/gridmesh/core/secret"
	"github.com/gridmesh/gridmesh/internal/logx"
	"github.com/gridmesh/gridmesh/internal/proto"
	"github.com/gridmesh/gridmesh/internal/spi"
)

// ErrAuthRejected is returned by Run when the server refuses the credential.
// It is fatal: no reconnection is attempted until a new credential is
// supplied.
var ErrAuthRejected = errors.New("authentication rejected by server")

// ConnectionState is the client's connection lifecycle state. Exactly one is
// active at a time.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateConnected      ConnectionState = "connected"
	StateReconnecting   ConnectionState = "reconnecting"
)

// Credential is an immutable snapshot of what the client authenticates
// with. Hot swaps replace the whole snapshot atomically; a send in flight
// always observes a consistent one.
type Credential struct {
	Token       string
	Protocol    int
	Pricing     *proto.Pricing
	DisplayName string
	Description string
}

// StatusObserver receives connection lifecycle notifications.
type StatusObserver interface {
	OnStateChange(state ConnectionState)
	OnConnected(connectionID string)
	OnCredential(cred *Credential)
	OnConnectionError(err error)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnStateChange(ConnectionState) {}
func (NopObserver) OnConnected(string)            {}
func (NopObserver) OnCredential(*Credential)      {}
func (NopObserver) OnConnectionError(error)       {}

// RequestHandler processes one inbound request to its terminal frame.
type RequestHandler interface {
	Handle(ctx context.Context, id string, body json.RawMessage)
}

// ClientConfig wires a Client.
type ClientConfig struct {
	ServerURL  string
	Credential Credential
	Policy     backoff.Policy
	Reconnect  bool
	Handler    RequestHandler
	Observer   StatusObserver
	Registrar  spi.Registrar
	Descriptor spi.Descriptor
}

// Client owns one logical connection: connect, authenticate, keepalive,
// reconnect with backoff, credential hot-swap. It never holds two live
// sockets; a reconnect fully settles before the next dial.
type Client struct {
	serverURL  string
	policy     backoff.Policy
	reconnect  bool
	handler    RequestHandler
	obs        StatusObserver
	registrar  spi.Registrar
	descriptor spi.Descriptor

	cred       atomic.Pointer[Credential]
	registered atomic.Bool

	mu      sync.RWMutex
	state   ConnectionState
	connID  string
	sendCh  chan []byte
	connCtx context.Context
	stopFn  context.CancelFunc
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Policy == (backoff.Policy{}) {
		cfg.Policy = backoff.Default()
	}
	if cfg.Credential.Protocol == 0 {
		cfg.Credential.Protocol = proto.Version
	}
	c := &Client{
		serverURL:  cfg.ServerURL,
		policy:     cfg.Policy,
		reconnect:  cfg.Reconnect,
		handler:    cfg.Handler,
		obs:        cfg.Observer,
		registrar:  cfg.Registrar,
		descriptor: cfg.Descriptor,
		state:      StateDisconnected,
	}
	cred := cfg.Credential
	c.cred.Store(&cred)
	return c
}

// Credential returns the current snapshot.
func (c *Client) Credential() Credential { return *c.cred.Load() }

// ConnectionID returns the server-assigned id of the current connection.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run connects and serves until the context is cancelled, Stop is called,
// authentication is rejected, or a non-recoverable condition is hit with
// reconnection disabled.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.stopFn = cancel
	c.mu.Unlock()

	attempt := 0
	for {
		c.setState(StateConnecting)
		res, err := c.connectAndServe(ctx)
		if errors.Is(err, ErrAuthRejected) {
			c.setState(StateDisconnected)
			return err
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if err == nil || !c.reconnect {
			c.setState(StateDisconnected)
			return err
		}
		if res.authOK || res.restart {
			attempt = 0
		}
		attempt++
		delay := c.policy.Delay(attempt, nil)
		c.setState(StateReconnecting)
		logx.Log.Warn().Dur("backoff", delay).Err(err).Msg("connection to server lost; retrying")
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stop cancels any pending reconnect timer, closes the socket with the
// clean-shutdown code and suppresses all further reconnection.
func (c *Client) Stop() {
	c.mu.RLock()
	cancel := c.stopFn
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Send serializes msg and hands it to the connection's single write path.
// A send attempted while disconnected is silently dropped.
func (c *Client) Send(msg proto.Message) bool {
	b, err := proto.Encode(msg)
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode outbound message")
		return false
	}
	c.mu.RLock()
	ch, cctx := c.sendCh, c.connCtx
	c.mu.RUnlock()
	if ch == nil || cctx == nil {
		return false
	}
	select {
	case ch <- b:
		return true
	case <-cctx.Done():
		return false
	}
}

// UpdatePricing pushes a price update to the server. The credential snapshot
// is only replaced when the server acknowledges it.
func (c *Client) UpdatePricing(inputPrice, outputPrice float64) bool {
	return c.Send(&proto.PriceUpdateMessage{InputPrice: inputPrice, OutputPrice: outputPrice})
}

type serveResult struct {
	authOK  bool
	restart bool
}

func (c *Client) connectAndServe(ctx context.Context) (serveResult, error) {
	var res serveResult
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	ws, _, err := websocket.Dial(connCtx, c.serverURL, nil)
	if err != nil {
		c.obs.OnConnectionError(err)
		return res, err
	}
	defer func() {
		if ctx.Err() != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "client stopped")
			return
		}
		// Error paths must not wait for a close handshake the peer may
		// never answer.
		cancelConn()
		_ = ws.CloseNow()
	}()

	cred := c.Credential()
	logx.Log.Info().Str("server", c.serverURL).Str("token", secret.Mask(cred.Token)).Msg("connected to server")
	c.setState(StateAuthenticating)

	authMsg := &proto.AuthMessage{Token: cred.Token, Protocol: cred.Protocol, Pricing: cred.Pricing}
	if cred.DisplayName != "" || cred.Description != "" {
		authMsg.Identity = &proto.Identity{DisplayName: cred.DisplayName, Description: cred.Description}
	}
	b, err := proto.Encode(authMsg)
	if err != nil {
		return res, err
	}
	if err := ws.Write(connCtx, websocket.MessageText, b); err != nil {
		c.obs.OnConnectionError(err)
		return res, err
	}

	sendCh := make(chan []byte, 16)
	go func() {
		defer cancelConn()
		for {
			select {
			case msg := <-sendCh:
				if err := ws.Write(connCtx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()
	c.attachSend(sendCh, connCtx)
	defer c.detachSend()

	for {
		_, data, err := ws.Read(connCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch status {
			case websocket.StatusNormalClosure:
				logx.Log.Info().Msg("server closed connection")
				return res, nil
			case websocket.StatusServiceRestart:
				res.restart = true
				logx.Log.Info().Msg("server restarting")
			case -1:
				logx.Log.Error().Err(err).Msg("server read error")
			default:
				logx.Log.Error().Int("code", int(status)).Err(err).Msg("server connection closed")
			}
			c.obs.OnConnectionError(err)
			return res, err
		}
		msg, derr := proto.Decode(data)
		if derr != nil {
			// Forward-compatibility: unknown or malformed frames are
			// dropped without tearing the connection down.
			logx.Log.Debug().Err(derr).Msg("discarding inbound frame")
			continue
		}
		switch m := msg.(type) {
		case *proto.AuthOKMessage:
			res.authOK = true
			c.setConnID(m.ConnectionID)
			c.setState(StateConnected)
			c.obs.OnConnected(m.ConnectionID)
			logx.Log.Info().Str("connection_id", m.ConnectionID).Msg("authenticated")
			c.registerOnce()
		case *proto.AuthErrorMessage:
			logx.Log.Error().Str("reason", m.Message).Msg("authentication rejected")
			return res, fmt.Errorf("%w: %s", ErrAuthRejected, m.Message)
		case *proto.PingMessage:
			pong, _ := proto.Encode(&proto.PongMessage{TS: m.TS})
			select {
			case sendCh <- pong:
			case <-connCtx.Done():
			}
		case *proto.RequestMessage:
			logx.Log.Info().Str("request_id", m.ID).Msg("inbound request")
			go c.handler.Handle(connCtx, m.ID, m.Body)
		case *proto.JWTRefreshMessage:
			c.swapCredential(func(cr *Credential) { cr.Token = m.Token })
			logx.Log.Info().Str("token", secret.Mask(m.Token)).Msg("credential refreshed")
		case *proto.PriceUpdateAckMessage:
			c.swapCredential(func(cr *Credential) {
				cr.Pricing = &proto.Pricing{InputPrice: m.InputPrice, OutputPrice: m.OutputPrice}
			})
			logx.Log.Info().Float64("input_price", m.InputPrice).Float64("output_price", m.OutputPrice).Msg("pricing acknowledged")
		default:
			logx.Log.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("discarding unexpected frame")
		}
	}
}

func (c *Client) registerOnce() {
	if c.registrar == nil || !c.registered.CompareAndSwap(false, true) {
		return
	}
	if err := c.registrar.RegisterProvider(c.descriptor); err != nil {
		logx.Log.Error().Err(err).Msg("host registration failed")
	}
}

// swapCredential replaces the snapshot atomically; readers never observe a
// half-updated credential.
func (c *Client) swapCredential(mut func(*Credential)) {
	for {
		old := c.cred.Load()
		next := *old
		mut(&next)
		if c.cred.CompareAndSwap(old, &next) {
			c.obs.OnCredential(&next)
			return
		}
	}
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.obs.OnStateChange(s)
	}
}

func (c *Client) setConnID(id string) {
	c.mu.Lock()
	c.connID = id
	c.mu.Unlock()
}

func (c *Client) attachSend(ch chan []byte, cctx context.Context) {
	c.mu.Lock()
	c.sendCh = ch
	c.connCtx = cctx
	c.mu.Unlock()
}

func (c *Client) detachSend() {
	c.mu.Lock()
	c.sendCh = nil
	c.connCtx = nil
	c.mu.Unlock()
}
