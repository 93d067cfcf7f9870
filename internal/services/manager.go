package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/codetrek/replikit/internal/api"
	"github.com/codetrek/replikit/internal/auth"
	busmemory "github.com/codetrek/replikit/internal/bus/memory"
	busnats "github.com/codetrek/replikit/internal/bus/nats"
	"github.com/codetrek/replikit/internal/config"
	"github.com/codetrek/replikit/internal/storage"
	storagememory "github.com/codetrek/replikit/internal/storage/memory"
	storagemongo "github.com/codetrek/replikit/internal/storage/mongo"
	"github.com/codetrek/replikit/pkg/replication"
)

const tokenTTL = 24 * time.Hour

// Manager owns the process-wide resources (storage client, bus
// connection, HTTP server) and hands out one replication engine per
// collection. Engines are created lazily on first use and live for the
// rest of the process.
type Manager struct {
	cfg *config.Config
	log *zap.Logger

	mongoClient *mongo.Client
	natsConn    *nats.Conn
	tokenSvc    *auth.TokenService

	mu      sync.Mutex
	engines map[string]*replication.Engine[*storage.Document]

	httpServer *http.Server
	wg         sync.WaitGroup
}

func NewManager(cfg *config.Config, log *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log,
		engines: make(map[string]*replication.Engine[*storage.Document]),
	}
}

// TokenService returns the auth token service, or nil when auth is
// disabled or Init has not run.
func (m *Manager) TokenService() *auth.TokenService {
	return m.tokenSvc
}

// Init connects the configured backends and builds the HTTP server.
// It does not start listening; call Start for that.
func (m *Manager) Init(ctx context.Context) error {
	if m.cfg.Storage.Backend == config.BackendMongo {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.cfg.Storage.MongoURI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		m.mongoClient = client
		m.log.Info("connected to mongodb", zap.String("uri", m.cfg.Storage.MongoURI))
	}

	if m.cfg.Bus.Backend == config.BackendNats {
		nc, err := nats.Connect(m.cfg.Bus.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		m.natsConn = nc
		m.log.Info("connected to nats", zap.String("url", m.cfg.Bus.NatsURL))
	}

	opts := []api.Option{api.WithMaxPullLimit(m.cfg.Replication.MaxPullLimit)}
	if m.cfg.Auth.Enabled {
		svc, err := m.initTokenService()
		if err != nil {
			return err
		}
		m.tokenSvc = svc
		opts = append(opts, api.WithAuth(api.Middleware(svc.Middleware)))
	}

	m.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.cfg.API.Port),
		Handler: api.NewServer(m, m.log, opts...),
	}
	return nil
}

func (m *Manager) initTokenService() (*auth.TokenService, error) {
	path := m.cfg.Auth.PrivateKeyPath
	key, err := auth.LoadPrivateKey(path)
	if os.IsNotExist(err) {
		m.log.Info("generating signing key", zap.String("path", path))
		if key, err = auth.GeneratePrivateKey(); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		if err = auth.SavePrivateKey(path, key); err != nil {
			return nil, fmt.Errorf("save signing key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return auth.NewTokenService(key, tokenTTL), nil
}

// Start begins serving HTTP. It returns immediately; the listener runs
// until Shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.log.Info("http server listening", zap.String("addr", m.httpServer.Addr))
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("http server failed", zap.Error(err))
		}
	}()
}

// Pull implements api.Replicator.
func (m *Manager) Pull(ctx context.Context, collection string, after replication.Checkpoint, limit int) (*replication.PullResult[*storage.Document], error) {
	eng, err := m.engineFor(ctx, collection)
	if err != nil {
		return nil, err
	}
	return eng.Pull(ctx, after, limit)
}

// Push implements api.Replicator.
func (m *Manager) Push(ctx context.Context, collection string, rows []replication.PushRow[*storage.Document]) ([]*storage.Document, error) {
	eng, err := m.engineFor(ctx, collection)
	if err != nil {
		return nil, err
	}
	return eng.Push(ctx, rows)
}

// Stream implements api.Replicator.
func (m *Manager) Stream(ctx context.Context, collection string) (<-chan replication.ChangeBatch[*storage.Document], error) {
	eng, err := m.engineFor(ctx, collection)
	if err != nil {
		return nil, err
	}
	return eng.Stream(ctx), nil
}

func (m *Manager) engineFor(ctx context.Context, collection string) (*replication.Engine[*storage.Document], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.engines[collection]; ok {
		return eng, nil
	}

	store, err := m.newStore(ctx, collection)
	if err != nil {
		return nil, err
	}
	bus, err := m.newBus(ctx, collection)
	if err != nil {
		return nil, err
	}

	eng := replication.New(store, bus,
		replication.WithLogger[*storage.Document](m.log.With(zap.String("collection", collection))),
		replication.WithRetryInterval[*storage.Document](m.cfg.Replication.RetryInterval()),
	)
	m.engines[collection] = eng
	return eng, nil
}

func (m *Manager) newStore(ctx context.Context, collection string) (replication.Store[*storage.Document], error) {
	switch m.cfg.Storage.Backend {
	case config.BackendMongo:
		db := m.mongoClient.Database(m.cfg.Storage.DatabaseName)
		store := storagemongo.New(db, collection, m.log)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure indexes for %q: %w", collection, err)
		}
		return store, nil
	case config.BackendMemory:
		return storagememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", m.cfg.Storage.Backend)
	}
}

func (m *Manager) newBus(ctx context.Context, collection string) (replication.Bus[*storage.Document], error) {
	switch m.cfg.Bus.Backend {
	case config.BackendNats:
		return busnats.New(ctx, m.natsConn, collection, m.log)
	case config.BackendMemory:
		return busmemory.NewHub(), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", m.cfg.Bus.Backend)
	}
}
