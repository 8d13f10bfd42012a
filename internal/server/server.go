// Package server implements the file server side of the protocol: a Backend
// that owns the storage directory and the state shared between connections,
// and a Protocol instance per connection that runs the request state machine.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/tftp/internal/core"
	"github.com/dcrodman/tftp/internal/core/client"
	"github.com/dcrodman/tftp/internal/core/metrics"
	"github.com/dcrodman/tftp/internal/session"
	"github.com/dcrodman/tftp/internal/storage"
)

// Server is the file server backend. One instance serves every connection
// accepted by a frontend.
type Server struct {
	Name    string
	Config  *core.Config
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	// Transfer history; nil disables auditing.
	DB *gorm.DB

	store *storage.Store
	state *session.State

	protocols   map[int64]*Protocol
	protocolsMu sync.Mutex
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	store, err := storage.New(s.Config.QualifiedPath(s.Config.StorageDir))
	if err != nil {
		return fmt.Errorf("error initializing storage: %w", err)
	}
	s.store = store
	s.state = session.NewState()
	s.protocols = make(map[int64]*Protocol)

	if s.Metrics == nil {
		s.Metrics = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	s.Logger.Infof("[%s] serving files from %s", s.Name, store.Root())
	return nil
}

// Connections returns the number of registered connections.
func (s *Server) Connections() int {
	return s.state.Registry.Len()
}

// NewProtocol registers a connection with the shared state and returns the
// state machine that will process its packets.
func (s *Server) NewProtocol(id int64, sender session.Sender) *Protocol {
	s.state.Registry.Add(id, sender)
	return &Protocol{
		id:      id,
		sender:  sender,
		store:   s.store,
		state:   s.state,
		metrics: s.Metrics,
		db:      s.DB,
		logger:  s.Logger.WithField("connection_id", id),

		maxBytesPerSecond: s.Config.Transfer.MaxBytesPerSecond,
	}
}

func (s *Server) SetUpClient(c *client.Client) {
	p := s.NewProtocol(c.ID, c)
	p.logger = p.logger.WithField("remote_addr", c.IPAddr())

	s.protocolsMu.Lock()
	s.protocols[c.ID] = p
	s.protocolsMu.Unlock()

	s.Metrics.RecordConnect()
}

func (s *Server) protocol(c *client.Client) (*Protocol, error) {
	s.protocolsMu.Lock()
	defer s.protocolsMu.Unlock()

	p, ok := s.protocols[c.ID]
	if !ok {
		return nil, fmt.Errorf("no protocol registered for connection %d", c.ID)
	}
	return p, nil
}

// Handle processes one complete frame read from c.
func (s *Server) Handle(ctx context.Context, c *client.Client, data []byte) error {
	p, err := s.protocol(c)
	if err != nil {
		return err
	}

	if err := p.HandleFrame(ctx, data); err != nil {
		return err
	}
	if p.ShouldTerminate() {
		return client.ErrTerminated
	}
	return nil
}

// TearDown releases everything held on behalf of c once its connection closes.
func (s *Server) TearDown(c *client.Client) {
	s.protocolsMu.Lock()
	p, ok := s.protocols[c.ID]
	delete(s.protocols, c.ID)
	s.protocolsMu.Unlock()

	if ok {
		p.Close()
		s.Metrics.RecordDisconnect()
	}
}
