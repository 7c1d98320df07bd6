// Package proxy exposes a loopback-only HTTP front end to the marketplace.
// It forwards calls upstream and transparently settles payment-required
// responses: detect the 402, sign an authorization, retry exactly once.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/gridmesh/gridmesh/internal/logx"
	"github.com/gridmesh/gridmesh/internal/payment"
)

// OverrideHeader lets a caller cap the authorization amount for one call.
const OverrideHeader = "X-Payment-Max-Amount"

// Authorizer signs one payment authorization from a 402 response body.
type Authorizer interface {
	Authorize(ctx context.Context, body []byte, override *big.Int) (string, error)
}

// Config wires a Server.
type Config struct {
	// UpstreamURL is the marketplace gateway base URL, without trailing slash.
	UpstreamURL string
	Authorizer  Authorizer
	// Client defaults to a client with no overall timeout so streams can
	// run as long as the upstream keeps them open.
	Client *http.Client
}

// Server is the signing proxy. It never binds outside loopback.
type Server struct {
	upstream   string
	authorizer Authorizer
	client     *http.Client
}

func New(cfg Config) *Server {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Server{
		upstream:   strings.TrimRight(cfg.UpstreamURL, "/"),
		authorizer: cfg.Authorizer,
		client:     client,
	}
}

// Handler constructs the proxy's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", OverrideHeader},
	}))
	r.Get("/v1/providers", s.handleProviders)
	r.Post("/v1/responses", s.handleResponses)
	r.Post("/v1/responses/{id}", s.handleResponses)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Serve listens on addr and serves until ctx is cancelled. Non-loopback
// addresses are refused before any socket is opened.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := listenLoopback(addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logx.Log.Info().Str("addr", ln.Addr().String()).Str("upstream", s.upstream).Msg("proxy listening")
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func listenLoopback(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("refusing to bind %q: proxy listens on loopback only", addr)
		}
	}
	return net.Listen("tcp", addr)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.upstream+"/v1/providers", nil)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	copyAuth(r, req)
	resp, err := s.client.Do(req)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream: "+err.Error())
		return
	}
	defer func() { _ = resp.Body.Close() }()
	s.forward(w, resp)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	override, err := parseOverride(r.Header.Get(OverrideHeader))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	url := s.upstream + "/v1/responses"
	if id := chi.URLParam(r, "id"); id != "" {
		url += "/" + id
	}

	resp, err := s.call(r, url, body, "")
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream: "+err.Error())
		return
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		defer func() { _ = resp.Body.Close() }()
		s.forward(w, resp)
		return
	}

	quote, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "read payment quote: "+err.Error())
		return
	}
	header, err := s.authorizer.Authorize(r.Context(), quote, override)
	if err != nil {
		logx.Log.Error().Err(err).Msg("payment authorization failed")
		writeJSONError(w, http.StatusBadGateway, "payment authorization: "+err.Error())
		return
	}

	// One retry with the identical body and the signed authorization
	// attached. A second refusal is final.
	retry, err := s.call(r, url, body, header)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream retry: "+err.Error())
		return
	}
	defer func() { _ = retry.Body.Close() }()
	if retry.StatusCode == http.StatusPaymentRequired {
		logx.Log.Error().Str("url", url).Msg("payment rejected after signed retry")
		writeJSONError(w, http.StatusBadGateway, "payment rejected after signed authorization")
		return
	}
	s.forward(w, retry)
}

func (s *Server) call(r *http.Request, url string, body []byte, paymentHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", r.Header.Get("Accept"))
	copyAuth(r, req)
	if paymentHeader != "" {
		req.Header.Set(payment.HeaderName, paymentHeader)
	}
	return s.client.Do(req)
}

// forward relays the upstream response to the caller. Event streams are
// piped through unmodified with a flush per chunk; everything else is
// buffered.
func (s *Server) forward(w http.ResponseWriter, resp *http.Response) {
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/event-stream") {
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(resp.StatusCode)
		flusher, _ := w.(http.Flusher)
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
			if err != nil {
				return
			}
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "read upstream body: "+err.Error())
		return
	}
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(data)
}

func copyAuth(src *http.Request, dst *http.Request) {
	if auth := src.Header.Get("Authorization"); auth != "" {
		dst.Header.Set("Authorization", auth)
	}
}

func parseOverride(v string) (*big.Int, error) {
	if v == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s header %q", OverrideHeader, v)
	}
	return n, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
