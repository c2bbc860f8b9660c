package inmem

import "testing"

func TestRegisterDeregister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil, "orders-1", "orders", "localhost:9001"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Registered("orders", "orders-1") {
		t.Fatal("expected instance to be registered")
	}

	if err := r.Deregister(nil, "orders-1", "orders"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if r.Registered("orders", "orders-1") {
		t.Fatal("expected instance to be gone after deregister")
	}
}

func TestHealthCheckRequiresRegistration(t *testing.T) {
	r := NewRegistry()

	if err := r.HealthCheck("orders-1", "orders"); err == nil {
		t.Fatal("expected error health-checking an unregistered instance")
	}

	if err := r.Register(nil, "orders-1", "orders", "localhost:9001"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.HealthCheck("orders-1", "orders"); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if got := r.CheckCount("orders", "orders-1"); got != 1 {
		t.Fatalf("CheckCount = %d, want 1", got)
	}
}
