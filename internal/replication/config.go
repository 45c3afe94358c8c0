package replication

import (
	"fmt"
	"time"

	"quorumdb/internal/configuration/properties"
)

const DefaultFactor = 3

type Config struct {
	Self                 string
	Factor               int
	DefaultConsistency   Consistency
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	VersionLookupTimeout time.Duration
	ReadRepair           bool
	Mode                 Mode
}

func ConfigFromProperties(self string, rc *properties.ReplicationConfigProperties) (Config, error) {
	level, err := ParseConsistency(rc.DefaultConsistency)
	if err != nil {
		return Config{}, err
	}
	mode := Mode(rc.Mode)
	if mode != ModeQuorum && mode != ModeLog {
		return Config{}, fmt.Errorf("replication: unknown mode %q", rc.Mode)
	}
	return Config{
		Self:                 self,
		Factor:               rc.Factor,
		DefaultConsistency:   level,
		WriteTimeout:         rc.WriteTimeout,
		ReadTimeout:          rc.ReadTimeout,
		VersionLookupTimeout: rc.VersionLookupTimeout,
		ReadRepair:           rc.ReadRepair,
		Mode:                 mode,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.Factor <= 0 {
		c.Factor = DefaultFactor
	}
	if c.DefaultConsistency == "" {
		c.DefaultConsistency = Quorum
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
	if c.VersionLookupTimeout <= 0 {
		c.VersionLookupTimeout = 100 * time.Millisecond
	}
	if c.Mode == "" {
		c.Mode = ModeQuorum
	}
}
