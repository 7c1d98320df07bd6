package provider

import (
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/internal/proto"
)

// Status is a point-in-time snapshot of the provider agent.
type Status struct {
	State          ConnectionState `json:"state"`
	ConnectionID   string          `json:"connection_id,omitempty"`
	ProviderID     string          `json:"provider_id"`
	ProviderName   string          `json:"provider_name"`
	Pricing        *proto.Pricing  `json:"pricing,omitempty"`
	ServedRequests uint64          `json:"served_requests"`
	FailedRequests uint64          `json:"failed_requests"`
	LastError      string          `json:"last_error,omitempty"`
	Version        string          `json:"version"`
}

// Tracker aggregates observer notifications into a snapshot for the status
// endpoint and keeps the Prometheus metrics in step. It implements both the
// connection StatusObserver and the relay Observer.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

func NewTracker(providerID, providerName string, pricing *proto.Pricing) *Tracker {
	return &Tracker{status: Status{
		State:        StateDisconnected,
		ProviderID:   providerID,
		ProviderName: providerName,
		Pricing:      pricing,
		Version:      Version,
	}}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) OnStateChange(s ConnectionState) {
	t.mu.Lock()
	t.status.State = s
	if s != StateConnected {
		t.status.ConnectionID = ""
	}
	t.mu.Unlock()
	setConnectedMetric(s == StateConnected)
}

func (t *Tracker) OnConnected(connectionID string) {
	t.mu.Lock()
	t.status.ConnectionID = connectionID
	t.status.LastError = ""
	t.mu.Unlock()
}

func (t *Tracker) OnCredential(cred *Credential) {
	t.mu.Lock()
	t.status.Pricing = cred.Pricing
	t.mu.Unlock()
}

func (t *Tracker) OnConnectionError(err error) {
	t.mu.Lock()
	t.status.LastError = err.Error()
	t.mu.Unlock()
}

func (t *Tracker) OnRequestDone(success bool, dur time.Duration, served uint64) {
	t.mu.Lock()
	if success {
		t.status.ServedRequests = served
	} else {
		t.status.FailedRequests++
	}
	t.mu.Unlock()
	recordRequestMetric(success, dur, served)
}
