// Package consul implements discovery.Registry on a Consul agent: each
// process registers one instance with a TTL health check at boot and
// deregisters it at shutdown. Nothing in this system discovers another
// service's instances through Consul — orders and fulfillment coordinate
// through Postgres, Kafka, and Redis, never direct calls — so this adapter
// only ever drives Consul's write side.
package consul

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	consul "github.com/hashicorp/consul/api"
	"github.com/vectorcommerce/platform/discovery"
)

// Registry wraps a Consul agent client.
type Registry struct {
	client *consul.Client
}

func NewRegistry(addr string) (*Registry, error) {
	config := consul.DefaultConfig()
	config.Address = addr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &Registry{client: client}, nil
}

// Register records instanceID under serviceName with a 5s TTL check; Consul
// deregisters the instance automatically if nothing renews the check within
// 10s of it going critical, bounding how long a crashed process without a
// clean shutdown stays visible as healthy.
func (r *Registry) Register(ctx context.Context, instanceID, serviceName, hostPort string) error {
	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return fmt.Errorf("discovery/consul: invalid hostPort %q, want host:port", hostPort)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("discovery/consul: invalid port in hostPort %q: %w", hostPort, err)
	}

	return r.client.Agent().ServiceRegister(&consul.AgentServiceRegistration{
		ID:      instanceID,
		Name:    serviceName,
		Address: parts[0],
		Port:    port,
		Check: &consul.AgentServiceCheck{
			CheckID:                        instanceID,
			TLSSkipVerify:                  true,
			TTL:                            "5s",
			DeregisterCriticalServiceAfter: "10s",
		},
	})
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	log.Printf("discovery/consul: deregistering %s instance %s", serviceName, instanceID)
	return r.client.Agent().ServiceDeregister(instanceID)
}

// HealthCheck renews instanceID's TTL check, called once per second by
// discovery.Registration's background loop.
func (r *Registry) HealthCheck(instanceID, serviceName string) error {
	return r.client.Agent().UpdateTTL(instanceID, "online", consul.HealthPassing)
}

var _ discovery.Registry = (*Registry)(nil)
