package provider

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gridmesh/gridmesh/internal/logx"
)

type hostLoad struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

type statusPayload struct {
	Status
	Host hostLoad `json:"host"`
}

// StartStatusServer starts an HTTP server exposing /status, /version and
// /healthz. It returns the address it is listening on.
func StartStatusServer(ctx context.Context, addr string, tracker *Tracker) (string, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusPayload{Status: tracker.Snapshot(), Host: sampleHostLoad()})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetVersionInfo())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("status server error")
		}
	}()
	return actual, nil
}

func sampleHostLoad() hostLoad {
	var load hostLoad
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		load.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		load.MemoryPercent = vm.UsedPercent
	}
	return load
}
