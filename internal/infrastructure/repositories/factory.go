package repositories

import (
	"context"
	"fmt"

	"meetsignal/internal/core/ports"
	"meetsignal/internal/infrastructure/distributed"
	"meetsignal/internal/infrastructure/repositories/memory"
	"meetsignal/internal/infrastructure/repositories/postgres"
	redisrepo "meetsignal/internal/infrastructure/repositories/redis"
	"meetsignal/pkg/config"
	pkgdistributed "meetsignal/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds stores and repositories, falling back to memory
// implementations when Redis or Postgres are not configured.
type RepositoryFactory struct {
	cfg         *config.Config
	instanceID  string
	useRedis    bool
	redisClient *redis.Client
	pg          *postgres.PostgresDB
	devRooms    *memory.MemoryRoomDirectory
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to the configured backends. A Redis failure
// degrades to single-instance memory stores; a Postgres failure is fatal
// because rooms could not be resolved.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, instanceID string, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:        cfg,
		instanceID: instanceID,
		useRedis:   cfg.Redis.Enabled,
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory stores",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis stores")
		}
	}

	if !factory.useRedis {
		logger.Warn("using memory stores; presence and groups are not shared between instances")
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.NewPostgresDB(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns, logger)
		if err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		factory.pg = db
	} else {
		factory.devRooms = memory.NewSeededRoomDirectory(cfg.DevRooms)
		logger.Infow("using configured dev rooms", "rooms", len(cfg.DevRooms))
	}

	return factory, nil
}

// NewMemoryFactory builds a factory that never touches the network.
func NewMemoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	return &RepositoryFactory{
		cfg:        cfg,
		instanceID: "local",
		devRooms:   memory.NewSeededRoomDirectory(cfg.DevRooms),
		logger:     logger,
	}
}

func (f *RepositoryFactory) redisEnabled() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient returns nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.redisEnabled() {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) CreateRoomDirectory() ports.RoomDirectory {
	if f.pg != nil {
		return f.pg.RoomDirectory()
	}
	return f.devRooms
}

func (f *RepositoryFactory) CreatePlanResolver() ports.PlanResolver {
	if f.pg != nil {
		return f.pg.PlanResolver()
	}
	return f.devRooms
}

func (f *RepositoryFactory) CreateBreakoutRepository() ports.BreakoutRepository {
	if f.pg != nil {
		return f.pg.BreakoutRepository()
	}
	return memory.NewMemoryBreakoutRepository()
}

func (f *RepositoryFactory) CreateAccessGrantRepository() ports.AccessGrantRepository {
	if f.pg != nil {
		return f.pg.AccessGrantRepository()
	}
	return memory.NewMemoryAccessGrantRepository()
}

func (f *RepositoryFactory) CreatePresenceCounter() ports.PresenceCounter {
	if f.redisEnabled() {
		return redisrepo.NewPresenceCounter(f.redisClient, f.cfg.Admission.PresenceTTL)
	}
	return memory.NewMemoryPresenceCounter()
}

func (f *RepositoryFactory) CreateSessionClockStore() ports.SessionClockStore {
	if f.redisEnabled() {
		return redisrepo.NewSessionClockStore(f.redisClient, f.cfg.Admission.PresenceTTL)
	}
	return memory.NewMemorySessionClockStore()
}

func (f *RepositoryFactory) CreateApprovalStore() ports.ApprovalStore {
	if f.redisEnabled() {
		return redisrepo.NewApprovalStore(f.redisClient)
	}
	return memory.NewMemoryApprovalStore()
}

func (f *RepositoryFactory) CreateAssignmentStore() ports.AssignmentStore {
	if f.redisEnabled() {
		return redisrepo.NewAssignmentStore(f.redisClient)
	}
	return memory.NewMemoryAssignmentStore()
}

func (f *RepositoryFactory) CreateRoster() ports.Roster {
	if f.redisEnabled() {
		return distributed.NewSharedRoster(f.redisClient, f.instanceID, f.logger)
	}
	return memory.NewMemoryRoster()
}

func (f *RepositoryFactory) CreateLocker() pkgdistributed.Locker {
	if f.redisEnabled() {
		return pkgdistributed.NewLockManager(f.redisClient, "meet:lock:", f.cfg.Breakout.LockTTL)
	}
	return pkgdistributed.NewLocalLockManager()
}

func (f *RepositoryFactory) CreateGroupBus(ctx context.Context, observer distributed.DeliveryObserver) (ports.GroupBus, error) {
	if f.redisEnabled() {
		return distributed.NewRedisGroupBus(ctx, f.redisClient, f.instanceID, f.logger, observer)
	}
	return distributed.NewLocalGroupBus(observer), nil
}

// Close releases Redis and Postgres connections.
func (f *RepositoryFactory) Close() error {
	var firstErr error
	if f.redisClient != nil {
		if err := redisrepo.CloseRedisClient(f.redisClient); err != nil {
			firstErr = err
		}
	}
	if f.pg != nil {
		if err := f.pg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck pings every backend in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisEnabled() {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if f.pg != nil {
		if err := f.pg.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}
