package properties

type ConfigProvider interface {
	GetApplication() *ApplicationConfigProperties
	GetNode() *NodeConfigProperties
	GetMembership() *MembershipConfigProperties
	GetRaft() *RaftConfigProperties
	GetReplication() *ReplicationConfigProperties
	GetTransport() *TransportConfigProperties
}

type AppConfigProvider struct {
	config *Config
}

func NewProvider(cfg *Config) *AppConfigProvider {
	return &AppConfigProvider{config: cfg}
}

func (c *AppConfigProvider) GetApplication() *ApplicationConfigProperties {
	return &c.config.Application
}

func (c *AppConfigProvider) GetNode() *NodeConfigProperties {
	return &c.config.Node
}

func (c *AppConfigProvider) GetMembership() *MembershipConfigProperties {
	return &c.config.Membership
}

func (c *AppConfigProvider) GetRaft() *RaftConfigProperties {
	return &c.config.Raft
}

func (c *AppConfigProvider) GetReplication() *ReplicationConfigProperties {
	return &c.config.Replication
}

func (c *AppConfigProvider) GetTransport() *TransportConfigProperties {
	return &c.config.Transport
}
