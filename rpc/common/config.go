package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Shard types
// --------------------------------------------------------------------------

// ServerShardType names the backend of a shard and whether the shard serves
// the raw lock store or a lock manager on top of it.
type ServerShardType string

const (
	ShardTypeLocalStore         ServerShardType = "lstore"
	ShardTypeDistributedStore   ServerShardType = "dstore"
	ShardTypeRedisStore         ServerShardType = "rstore"
	ShardTypeLocalLockMgr       ServerShardType = "lockmgr(lstore)"
	ShardTypeDistributedLockMgr ServerShardType = "lockmgr(dstore)"
	ShardTypeRedisLockMgr       ServerShardType = "lockmgr(rstore)"
)

var shardTypes = []ServerShardType{
	ShardTypeLocalStore,
	ShardTypeDistributedStore,
	ShardTypeRedisStore,
	ShardTypeLocalLockMgr,
	ShardTypeDistributedLockMgr,
	ShardTypeRedisLockMgr,
}

// ParseServerShardType parses one of lstore, dstore, rstore, lockmgr(lstore), lockmgr(dstore), lockmgr(rstore)
func ParseServerShardType(s string) (ServerShardType, error) {
	s = strings.TrimSpace(s)
	for _, t := range shardTypes {
		if string(t) == s {
			return t, nil
		}
	}
	names := make([]string, len(shardTypes))
	for i, t := range shardTypes {
		names[i] = string(t)
	}
	return "", fmt.Errorf("invalid shard type: %s (expected one of: %s)", s, strings.Join(names, ", "))
}

// IsLockManager reports whether the shard serves a lock manager
func (t ServerShardType) IsLockManager() bool {
	return strings.HasPrefix(string(t), "lockmgr(")
}

// Backend returns the store type behind the shard (lstore, dstore or rstore)
func (t ServerShardType) Backend() ServerShardType {
	if t.IsLockManager() {
		return ServerShardType(strings.TrimSuffix(strings.TrimPrefix(string(t), "lockmgr("), ")"))
	}
	return t
}

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the backend and the interface served for the shard
	Type ServerShardType
}

// ParseShards parses a comma-separated list of ID=TYPE pairs
func ParseShards(s string) ([]ServerShard, error) {
	var shards []ServerShard
	seen := make(map[uint64]bool)
	for _, shardConfig := range strings.Split(s, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		if seen[shardID] {
			return nil, fmt.Errorf("duplicate shard ID %d", shardID)
		}
		seen[shardID] = true

		shardType, err := ParseServerShardType(parts[1])
		if err != nil {
			return nil, err
		}
		shards = append(shards, ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes (in bytes, 0 = system default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // < 0 = system default
}

// ServerTransportConfig configures the server side of the RPC transport
type ServerTransportConfig struct {
	Endpoint       string
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the client side of the RPC transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Lease configuration
// --------------------------------------------------------------------------

// LeaseConfig holds the settings of the lock managers created by the server
type LeaseConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	ResourceTypes   []string // empty = any type
	SweepInterval   time.Duration
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dLock server.
type ServerConfig struct {
	// shards served by this node
	Shards []ServerShard

	// Dragonboat parameters (dstore shards only)
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Redis parameters (rstore shards only)
	RedisURL    string
	RedisPrefix string

	// timeout of a single request in seconds
	TimeoutSecond int64

	// RPC transport settings
	Transport ServerTransportConfig

	// REST api settings ("" = disabled)
	RestEndpoint string
	RestShard    uint64 // lock manager shard served over REST (0 = first lock manager shard)

	// Lease settings
	Lease LeaseConfig

	// Logging configuration
	LogLevel string
}

// HasShardType checks if the configuration contains any shard with the given backend
func (c *ServerConfig) HasShardType(backend ServerShardType) bool {
	for _, shard := range c.Shards {
		if shard.Type.Backend() == backend {
			return true
		}
	}
	return false
}

// HasRemoteShard checks if the configuration contains any raft replicated shards
func (c *ServerConfig) HasRemoteShard() bool {
	return c.HasShardType(ShardTypeDistributedStore)
}

// Timeout returns the request timeout as a duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("REST API")
	if c.RestEndpoint == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.RestEndpoint)
		addField("Shard", strconv.FormatUint(c.RestShard, 10))
	}

	// Lease settings
	addSection("Leases")
	addField("Default Duration", c.Lease.DefaultDuration.String())
	addField("Max Duration", c.Lease.MaxDuration.String())
	if len(c.Lease.ResourceTypes) == 0 {
		addField("Resource Types", "any")
	} else {
		addField("Resource Types", strings.Join(c.Lease.ResourceTypes, ", "))
	}
	if c.Lease.SweepInterval > 0 {
		addField("Sweep Interval", c.Lease.SweepInterval.String())
	} else {
		addField("Sweep Interval", "disabled")
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasShardType(ShardTypeRedisStore) {
		addSection("Redis")
		addField("Prefix", c.RedisPrefix)
	}

	if c.HasRemoteShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// Timeout returns the request timeout as a duration (0 = none)
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
