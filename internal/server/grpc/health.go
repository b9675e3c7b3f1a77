package grpc

import (
	"github.com/dmitrijs2005/pairchat/internal/storage"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names.
const (
	ServiceServer = ""
	ServiceCache  = "chat.cache"
	ServiceLog    = "chat.log"
)

func serviceFor(b storage.Backend) string {
	switch b {
	case storage.BackendCache:
		return ServiceCache
	case storage.BackendLog:
		return ServiceLog
	}
	return ""
}

// SetBackendHealth publishes a storage backend's health. Its signature
// matches storage.ResilientStore.OnHealthChange.
func (s *AdminServer) SetBackendHealth(b storage.Backend, healthy bool) {
	name := serviceFor(b)
	if name == "" {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(name, status)
}
