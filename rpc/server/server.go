package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dLock/api/rest"
	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/cedar"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/ValentinKolb/dLock/lib/store/rstore"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates, the lock manager on top of it (lock manager
// shards only) and the adapter that handles requests for the shard
type serverShard struct {
	Type    common.ServerShardType
	Store   store.ILockStore
	Manager lease.ILockManager
	Sweeper *lease.Sweeper
	Adapter IRPCServerAdapter
}

// RPCServer serves the shards of one dLock node
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, *serverShard]
	metrics    *lease.Metrics

	nodeHost *dragonboat.NodeHost
	rest     *http.Server

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, *serverShard](),
		metrics:    lease.NewMetrics(),
	}
}

// Metrics returns the metrics shared by all lock manager shards of the server
func (s *RPCServer) Metrics() *lease.Metrics {
	return s.metrics
}

// Serve initializes the shards, starts the sweepers and the REST api and then
// serves the RPC transport. It blocks until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}

	for id, shard := range s.shardList() {
		if shard.Sweeper != nil {
			shard.Sweeper.Start(context.Background())
			Logger.Debugf("started sweeper for shard %d", id)
		}
	}

	if err := s.startRest(); err != nil {
		return err
	}

	return s.transport.Listen(s.config)
}

// Close stops the transport, the REST api, the sweepers and releases all stores.
// It is safe to call Close more than once.
func (s *RPCServer) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}

		if s.rest != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.rest.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown rest api: %w", err))
			}
			cancel()
		}

		for id, shard := range s.shardList() {
			if shard.Sweeper != nil {
				shard.Sweeper.Stop()
			}
			if err := shard.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close shard %d: %w", id, err))
			}
		}

		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
		Logger.Infof("dLock server stopped")
	})
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	s.initOnce.Do(func() { s.initErr = s.createShards() })
	return s.initErr
}

func (s *RPCServer) createShards() error {
	// Init logger
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	// Function to create a new lock table
	tableFactory := func() db.ILockTable { return cedar.NewCedarDB(nil) }

	if s.config.HasRemoteShard() {
		// Only create the NodeHost if we have raft shards
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	/*
		Note: A single RPC Server can have any number of shards. Each shard is backed
		by a local, raft replicated or redis store and serves either the raw store or
		a lock manager on top of it.
	*/

	for _, shardConfig := range s.config.Shards {
		st, err := s.createStore(shardConfig, tableFactory)
		if err != nil {
			return err
		}

		shard := &serverShard{Type: shardConfig.Type, Store: st}
		if shardConfig.Type.IsLockManager() {
			shard.Manager = lease.NewLockManager(st, s.leaseOptions()...)
			shard.Adapter = NewLockManagerServerAdapter(shard.Manager)
			if s.config.Lease.SweepInterval > 0 {
				shard.Sweeper = lease.NewSweeper(shard.Manager, s.config.Lease.SweepInterval)
			}
		} else {
			shard.Adapter = NewStoreServerAdapter(st)
		}

		s.shards.Store(shardConfig.ShardID, shard)
		Logger.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	Logger.Infof("dLock setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)
	return nil
}

func (s *RPCServer) createStore(shardConfig common.ServerShard, tableFactory store.TableFactory) (store.ILockStore, error) {
	switch shardConfig.Type.Backend() {
	case common.ShardTypeLocalStore:
		return lstore.NewLocalStore(tableFactory), nil

	case common.ShardTypeDistributedStore:
		if s.nodeHost == nil {
			return nil, fmt.Errorf("node host is nil, cannot create distributed store")
		}
		// Start Raft for the shard
		err := s.nodeHost.StartConcurrentReplica(
			s.config.ClusterMembers,
			false,
			dstore.CreateStateMachineFactory(tableFactory),
			s.config.ToDragonboatConfig(shardConfig.ShardID),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
		}
		return dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, s.config.Timeout()), nil

	case common.ShardTypeRedisStore:
		prefix := s.config.RedisPrefix
		if prefix == "" {
			prefix = "dlock"
		}
		// every shard gets its own key space on the same redis server
		st, err := rstore.NewRedisStore(s.config.RedisURL, &rstore.Options{
			Prefix: fmt.Sprintf("%s:%d", prefix, shardConfig.ShardID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store for shard %d: %w", shardConfig.ShardID, err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("invalid shard type: %s", shardConfig.Type)
	}
}

func (s *RPCServer) leaseOptions() []lease.Option {
	opts := []lease.Option{lease.WithMetrics(s.metrics)}
	if s.config.Lease.DefaultDuration > 0 {
		opts = append(opts, lease.WithDefaultDuration(s.config.Lease.DefaultDuration))
	}
	if s.config.Lease.MaxDuration > 0 {
		opts = append(opts, lease.WithMaxDuration(s.config.Lease.MaxDuration))
	}
	if len(s.config.Lease.ResourceTypes) > 0 {
		types := make([]db.ResourceType, len(s.config.Lease.ResourceTypes))
		for i, t := range s.config.Lease.ResourceTypes {
			types[i] = db.ResourceType(t)
		}
		opts = append(opts, lease.WithResourceTypes(types...))
	}
	return opts
}

// startRest serves the REST api for one lock manager shard in the background
func (s *RPCServer) startRest() error {
	if s.config.RestEndpoint == "" {
		return nil
	}

	mgr, shardID, err := s.restManager()
	if err != nil {
		return err
	}

	handler := rest.NewHandler(mgr, s.metrics)
	s.rest = &http.Server{
		Addr:              s.config.RestEndpoint,
		Handler:           rest.NewRouter(handler, s.config.LogLevel == "debug"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		Logger.Infof("Starting REST api on %s for shard %d", s.config.RestEndpoint, shardID)
		if err := s.rest.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("REST api stopped: %v", err)
		}
	}()
	return nil
}

// restManager returns the lock manager served over REST
func (s *RPCServer) restManager() (lease.ILockManager, uint64, error) {
	if s.config.RestShard != 0 {
		shard, ok := s.shards.Load(s.config.RestShard)
		if !ok || shard.Manager == nil {
			return nil, 0, fmt.Errorf("rest shard %d is not a lock manager shard", s.config.RestShard)
		}
		return shard.Manager, s.config.RestShard, nil
	}

	// first lock manager shard in configuration order
	for _, shardConfig := range s.config.Shards {
		if shard, ok := s.shards.Load(shardConfig.ShardID); ok && shard.Manager != nil {
			return shard.Manager, shardConfig.ShardID, nil
		}
	}
	return nil, 0, fmt.Errorf("rest api enabled but no lock manager shard configured")
}

func (s *RPCServer) shardList() map[uint64]*serverShard {
	out := make(map[uint64]*serverShard)
	s.shards.Range(func(id uint64, shard *serverShard) bool {
		out[id] = shard
		return true
	})
	return out
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

// handle decodes a request, dispatches it to the adapter of the shard and encodes the response
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var respMsg *common.Message

	// Get appropriate shard
	shard, ok := s.shards.Load(shardId)

	if !ok {
		// Case shard does not exist -> error
		respMsg = common.NewErrorResponse(store.NewError(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardId)))
	} else {
		var msg common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(store.NewError(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize request: %s", err)))
		} else {
			ctx, cancel := s.requestContext()
			respMsg = shard.Adapter.Handle(ctx, &msg)
			cancel()
		}
	}

	// Return result
	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(
			store.NewError(store.RetCInternalError, fmt.Sprintf("failed to serialize response: %s", err))))
	}
	return val
}

func (s *RPCServer) requestContext() (context.Context, context.CancelFunc) {
	if timeout := s.config.Timeout(); timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
