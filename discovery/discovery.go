package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Registry is the service-registration contract every collaborator (Consul
// in production, an in-memory fake in tests) implements. Both processes in
// this system register an instance purely for operational visibility —
// Consul's UI, health checks, eventual blue/green routing — never to look
// each other up: orders and fulfillment never call one another directly,
// they coordinate entirely through Postgres, Kafka, and Redis. So unlike a
// registry built for service-to-service RPC, this one has no Discover.
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	HealthCheck(instanceID, serviceName string) error
}

// GenerateInstanceID returns a unique registry instance id for serviceName.
func GenerateInstanceID(serviceName string) string {
	return fmt.Sprintf("%s-%d", serviceName, rand.New(rand.NewSource(time.Now().UnixNano())).Int())
}
