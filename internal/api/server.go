package api

import (
	"context"
	"os"
	"strings"

	"zonedispatch/internal/auth"
	"zonedispatch/internal/notify"
	"zonedispatch/internal/store"
	"zonedispatch/internal/zones"
)

type Server struct {
	Store  store.Store
	Pub    *notify.Publisher
	Auth   *auth.Verifier
	Broker EventBroker
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil { return nil, err }
		}
		s = sp
	}
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
	} else {
		broker = NewBroker()
	}
	return &Server{Store: s, Pub: notify.NewPublisher(s), Auth: auth.NewVerifierFromEnv(), Broker: broker}, nil
}

// NewWithStore wires a Server around an existing store; used by tests.
func NewWithStore(s store.Store) *Server {
	return &Server{Store: s, Pub: notify.NewPublisher(s), Auth: auth.NewVerifierFromEnv(), Broker: NewBroker()}
}

// NewNotifyWorker creates the background delivery worker.
func (s *Server) NewNotifyWorker() *notify.Worker {
	return notify.NewWorker(s.Store)
}

// reconciler returns the sweep runner wired to publish assignment events to
// both the webhook queue and the live broker for the given location.
func (s *Server) reconciler(tenant, locationID string) *zones.Reconciler {
	return &zones.Reconciler{
		Store: s.Store,
		Events: func(eventType string, data map[string]any) {
			s.Pub.Emit(context.Background(), tenant, eventType, data)
			s.Broker.Publish(locationID, SSEEvent{Type: eventType, Data: data})
			for _, k := range []string{"fromDriver", "toDriver", "driverId"} {
				if d, ok := data[k].(string); ok && d != "" {
					s.Broker.Publish(tenant+"|driver|"+d, SSEEvent{Type: eventType, Data: data})
				}
			}
		},
	}
}
