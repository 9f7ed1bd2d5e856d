// Package dbrouter holds the pieces shared by the relational and document
// connectors: endpoint configuration, the error taxonomy, logging events,
// the connector lifecycle and futures.
//
// Main features:
//
// - Replication-aware routing over MASTER/SLAVE pools (see package replication).
//
// - Topology-aware shard selection over document masters (see package document).
package dbrouter

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const DefaultPoolSize = 10

// EndpointConfig describes a single backend node. It is not modified after
// it has been loaded.
type EndpointConfig struct {
	// Driver selects the relational driver: "mysql" (default) or "sqlite3".
	Driver string `mapstructure:"driver"`
	// URL is a driver specific address. It takes precedence over Host and
	// Port when set.
	URL            string        `mapstructure:"url"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	PoolSize       int           `mapstructure:"pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Addr returns host:port, or URL if no host is configured.
func (c EndpointConfig) Addr() string {
	if c.Host == "" {
		return c.URL
	}
	if c.Port == 0 {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Capacity is the maximum number of simultaneous connections to the node.
func (c EndpointConfig) Capacity() int {
	if c.PoolSize <= 0 {
		return DefaultPoolSize
	}
	return c.PoolSize
}

// ConnectionGroup is one replication unit: a master and its slaves. Groups
// are addressed by their position in the configuration.
type ConnectionGroup struct {
	Master EndpointConfig   `mapstructure:"master"`
	Slaves []EndpointConfig `mapstructure:"slaves"`
}

// ValidateGroups checks that there is at least one group and that every
// endpoint has an address.
func ValidateGroups(groups []ConnectionGroup) error {
	if len(groups) == 0 {
		return ErrEmptyGroups
	}
	for i, g := range groups {
		if g.Master.Addr() == "" {
			return &ConfigError{Group: i, Role: "MASTER", Msg: "endpoint has no address"}
		}
		for j, s := range g.Slaves {
			if s.Addr() == "" {
				return &ConfigError{Group: i, Role: "SLAVE" + strconv.Itoa(j+1),
					Msg: "endpoint has no address"}
			}
		}
	}
	return nil
}

// RelationalConfig configures the MySQL replication groups.
type RelationalConfig struct {
	// Selector names the pool selection strategy: RR, RANDOM or ORDER.
	Selector             string            `mapstructure:"selector"`
	RemoveNodeErrorCount int               `mapstructure:"remove_node_error_count"`
	CheckTimeout         time.Duration     `mapstructure:"check_timeout"`
	FailFast             bool              `mapstructure:"fail_fast"`
	DisableRetry         bool              `mapstructure:"disable_retry"`
	Groups               []ConnectionGroup `mapstructure:"groups"`
}

// DocumentConfig configures the document store masters. Slaves of a
// document group are ignored.
type DocumentConfig struct {
	DialTimeout time.Duration     `mapstructure:"dial_timeout"`
	Groups      []ConnectionGroup `mapstructure:"groups"`
}

// Config is the file configuration of both connectors. Either section may
// be left empty, but not both.
type Config struct {
	Relational RelationalConfig `mapstructure:"relational"`
	Document   DocumentConfig   `mapstructure:"document"`
}

// Validate checks every configured section.
func (c Config) Validate() error {
	if len(c.Relational.Groups) == 0 && len(c.Document.Groups) == 0 {
		return ErrEmptyGroups
	}
	if c.Relational.RemoveNodeErrorCount < 0 {
		return &ConfigError{Msg: "remove_node_error_count must not be negative"}
	}
	if len(c.Relational.Groups) > 0 {
		if err := ValidateGroups(c.Relational.Groups); err != nil {
			return fmt.Errorf("relational: %w", err)
		}
	}
	if len(c.Document.Groups) > 0 {
		if err := ValidateGroups(c.Document.Groups); err != nil {
			return fmt.Errorf("document: %w", err)
		}
	}
	return nil
}
