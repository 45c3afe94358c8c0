package properties

import "time"

type ApplicationConfigProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

type NodeConfigProperties struct {
	ID          string   `yaml:"id"`
	Address     string   `yaml:"address"`
	HTTPAddress string   `yaml:"http-address"`
	Roles       []string `yaml:"roles"`
	Seeds       []string `yaml:"seeds"`
}

type MembershipConfigProperties struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval"`
	MissThreshold     int           `yaml:"miss-threshold"`
	RPCTimeout        time.Duration `yaml:"rpc-timeout"`
}

type WriteAheadLogProperties struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	NoSync  bool   `yaml:"no-sync"`
}

type RaftConfigProperties struct {
	// Peers maps every voting node id to its peer address, self included.
	Peers              map[string]string       `yaml:"peers"`
	ElectionTimeoutMin time.Duration           `yaml:"election-timeout-min"`
	ElectionTimeoutMax time.Duration           `yaml:"election-timeout-max"`
	HeartbeatInterval  time.Duration           `yaml:"heartbeat-interval"`
	RPCTimeout         time.Duration           `yaml:"rpc-timeout"`
	InboxSize          int                     `yaml:"inbox-size"`
	Wal                WriteAheadLogProperties `yaml:"wal"`
}

type ReplicationConfigProperties struct {
	Factor               int           `yaml:"factor"`
	DefaultConsistency   string        `yaml:"default-consistency"`
	WriteTimeout         time.Duration `yaml:"write-timeout"`
	ReadTimeout          time.Duration `yaml:"read-timeout"`
	VersionLookupTimeout time.Duration `yaml:"version-lookup-timeout"`
	ReadRepair           bool          `yaml:"read-repair"`
	Mode                 string        `yaml:"mode"`
	VirtualNodes         int           `yaml:"virtual-nodes"`
}

type TransportConfigProperties struct {
	Network              string        `yaml:"network"`
	MaxConcurrentStreams uint32        `yaml:"max-concurrent-streams"`
	RequestTimeout       time.Duration `yaml:"request-timeout"`
	KeepaliveTime        time.Duration `yaml:"keepalive-time"`
	KeepaliveTimeout     time.Duration `yaml:"keepalive-timeout"`
}

type Config struct {
	Application ApplicationConfigProperties `yaml:"app"`
	Node        NodeConfigProperties        `yaml:"node"`
	Membership  MembershipConfigProperties  `yaml:"membership"`
	Raft        RaftConfigProperties        `yaml:"raft"`
	Replication ReplicationConfigProperties `yaml:"replication"`
	Transport   TransportConfigProperties   `yaml:"transport"`
}
