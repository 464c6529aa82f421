// Copyright IBM Corp. All Rights Reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package bridge

import (
	"time"

	"github.com/pkg/errors"
)

// Configuration defines the parameters needed in order to create an instance of Bridge.
type Configuration struct {
	// SelfID is the identity local writes are authored by.
	SelfID string `yaml:"selfID"`

	// EngineHost and EnginePort locate the consensus engine's transaction intake endpoint.
	EngineHost string `yaml:"engineHost"`
	EnginePort int    `yaml:"enginePort"`

	// ListenHost and ListenPort are where the consensus engine delivers commit blocks.
	// If ListenPort is taken, the bridge waits PortRetryDelay and tries ListenPort+1 once.
	ListenHost     string        `yaml:"listenHost"`
	ListenPort     int           `yaml:"listenPort"`
	PortRetryDelay time.Duration `yaml:"portRetryDelay"`

	// PendingTTL is how long a published write waits for its commit before it fails
	// with a consensus timeout. Pending requests are checked every SweepInterval.
	PendingTTL    time.Duration `yaml:"pendingTTL"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// PendingLimit is the maximal number of writes waiting for their commit.
	PendingLimit int `yaml:"pendingLimit"`

	// DialTimeout bounds a single connection attempt to the engine. Failed attempts are
	// retried with exponential backoff capped at ReconnectMaxInterval.
	DialTimeout          time.Duration `yaml:"dialTimeout"`
	ReconnectMaxInterval time.Duration `yaml:"reconnectMaxInterval"`

	// MaxLineBytes is the longest RPC line accepted from the engine.
	MaxLineBytes int `yaml:"maxLineBytes"`

	// ResolvedCacheSize and ResolvedCacheTTL bound the memory of resolved request ids
	// used to tell redeliveries apart from unknown local transactions.
	ResolvedCacheSize int           `yaml:"resolvedCacheSize"`
	ResolvedCacheTTL  time.Duration `yaml:"resolvedCacheTTL"`

	// AllowedRemoteAuthors restricts which remote authors are appended. Empty means any.
	AllowedRemoteAuthors []string `yaml:"allowedRemoteAuthors"`
}

// DefaultConfig matches a consensus engine running on the same host with its default ports.
// Set the SelfID.
var DefaultConfig = Configuration{
	EngineHost:           "127.0.0.1",
	EnginePort:           1338,
	ListenPort:           1339,
	PortRetryDelay:       time.Second,
	PendingTTL:           120 * time.Second,
	SweepInterval:        30 * time.Second,
	PendingLimit:         10000,
	DialTimeout:          5 * time.Second,
	ReconnectMaxInterval: 30 * time.Second,
	MaxLineBytes:         16 * 1024 * 1024,
	ResolvedCacheSize:    4096,
	ResolvedCacheTTL:     10 * time.Minute,
}

func (c Configuration) Validate() error {
	if c.SelfID == "" {
		return errors.Errorf("SelfID should be set")
	}
	if c.EngineHost == "" {
		return errors.Errorf("EngineHost should be set")
	}
	if c.EnginePort <= 0 || c.EnginePort > 65535 {
		return errors.Errorf("EnginePort should be a valid port but it is %d", c.EnginePort)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.Errorf("ListenPort should be a valid port but it is %d", c.ListenPort)
	}
	if c.PortRetryDelay < 0 {
		return errors.Errorf("PortRetryDelay should not be negative")
	}
	if c.PendingTTL <= 0 {
		return errors.Errorf("PendingTTL should be greater than zero")
	}
	if c.SweepInterval <= 0 {
		return errors.Errorf("SweepInterval should be greater than zero")
	}
	if c.SweepInterval > c.PendingTTL {
		return errors.Errorf("SweepInterval should be less than or equal to PendingTTL")
	}
	if c.PendingLimit <= 0 {
		return errors.Errorf("PendingLimit should be greater than zero")
	}
	if c.DialTimeout <= 0 {
		return errors.Errorf("DialTimeout should be greater than zero")
	}
	if c.ReconnectMaxInterval <= 0 {
		return errors.Errorf("ReconnectMaxInterval should be greater than zero")
	}
	if c.MaxLineBytes <= 0 {
		return errors.Errorf("MaxLineBytes should be greater than zero")
	}
	if c.ResolvedCacheSize <= 0 {
		return errors.Errorf("ResolvedCacheSize should be greater than zero")
	}
	if c.ResolvedCacheTTL < 0 {
		return errors.Errorf("ResolvedCacheTTL should not be negative")
	}
	for _, author := range c.AllowedRemoteAuthors {
		if author == "" {
			return errors.Errorf("AllowedRemoteAuthors should not contain an empty author")
		}
	}
	return nil
}
