package discovery

import (
	"context"
	"log/slog"
	"time"
)

// Registration tracks one service instance's Consul session: Register has
// already run by the time Registration exists, and a background goroutine
// renews the TTL health check until Deregister stops it. Every process in
// this system follows the same register-then-heartbeat-then-deregister
// sequence at boot and shutdown, so it lives here once rather than being
// reimplemented per binary.
type Registration struct {
	registry    Registry
	instanceID  string
	serviceName string
	logger      *slog.Logger
	stopChan    chan struct{}
}

// Register records instanceID/serviceName/hostPort with registry and starts
// a 1s TTL health-check goroutine. Returns nil, nil if registry is nil
// (service discovery disabled), which is what each main.go in this module
// passes when no Consul address is configured, for local development.
func Register(ctx context.Context, registry Registry, instanceID, serviceName, hostPort string, logger *slog.Logger) (*Registration, error) {
	if registry == nil {
		return nil, nil
	}
	if err := registry.Register(ctx, instanceID, serviceName, hostPort); err != nil {
		return nil, err
	}

	r := &Registration{
		registry:    registry,
		instanceID:  instanceID,
		serviceName: serviceName,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
	go r.healthCheckLoop()
	return r, nil
}

func (r *Registration) healthCheckLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.registry.HealthCheck(r.instanceID, r.serviceName); err != nil {
				r.logger.Warn("discovery: health check failed", "instance_id", r.instanceID, "error", err)
			}
		}
	}
}

// Deregister stops the health-check loop and removes the instance from the
// registry. Safe to call on a nil *Registration (disabled discovery).
func (r *Registration) Deregister(ctx context.Context) error {
	if r == nil {
		return nil
	}
	close(r.stopChan)
	return r.registry.Deregister(ctx, r.instanceID, r.serviceName)
}
