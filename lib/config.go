package lib

import (
	"math"
	"time"
)

/* This file implements the 'user controlled' configuration of each module of the node */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json"      // the file path for the node configuration
	KeySharePath   = "witness_key.json" // the file path for the node's threshold key share
	DBDirectory    = "consensus"        // the directory for the commit fact database
)

// Config is the structure of the user configuration options for a witness node
type Config struct {
	MainConfig      // main options spanning over all modules
	ConsensusConfig // fast path / witness options
	GossipConfig    // fallback gossip options
	StoreConfig     // persistence options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		GossipConfig:    DefaultGossipConfig(),
		StoreConfig:     DefaultStoreConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel string `json:"logLevel"` // any level includes the levels above it: debug < info < warning < error
	DataDir  string `json:"dataDir"`  // the directory holding config, keys, logs and the database
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel: "info",
		DataDir:  DefaultDataDirPath(),
	}
}

// CONSENSUS CONFIG BELOW

type ConsensusConfig struct {
	FallbackTimeoutMS int  `json:"fallbackTimeoutMS"` // ms a witness waits on the fast path before entering fallback gossip; 2-3x median witness RTT
	StaleInstanceMS   int  `json:"staleInstanceMS"`   // ms after which an undecided instance is evicted
	EnablePipelining  bool `json:"enablePipelining"`  // bundle next-round nonce commitments into share responses
}

// DefaultConsensusConfig() returns the developer set consensus options
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		FallbackTimeoutMS: 1500,
		StaleInstanceMS:   5 * 60 * 1000,
		EnablePipelining:  true,
	}
}

// FallbackTimeout() returns the fallback timeout as a duration
func (c ConsensusConfig) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutMS) * time.Millisecond
}

// StaleInstanceTimeout() returns the stale instance eviction window as a duration
func (c ConsensusConfig) StaleInstanceTimeout() time.Duration {
	return time.Duration(c.StaleInstanceMS) * time.Millisecond
}

// GOSSIP CONFIG BELOW

type GossipConfig struct {
	TickIntervalMS int    `json:"tickIntervalMS"` // ms between gossip rounds while undecided
	Fanout         int    `json:"fanout"`         // peers sampled per gossip round; 0 derives from the witness set size
	PeerSampling   string `json:"peerSampling"`   // 'random' or 'rendezvous' (deterministic, for adversarial deployments)
}

// DefaultGossipConfig() returns the developer set gossip options
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		TickIntervalMS: 300,
		Fanout:         0,
		PeerSampling:   "random",
	}
}

// TickInterval() returns the gossip tick interval as a duration
func (c GossipConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// FanoutFor() returns the configured fanout, or derives one from the witness set size
// using the random graph connectivity bound k >= c*ln(n) with c = 1.2
func (c GossipConfig) FanoutFor(n int) int {
	if c.Fanout > 0 {
		return c.Fanout
	}
	if n <= 1 {
		return 0
	}
	k := int(math.Ceil(1.2 * math.Log(float64(n))))
	if k < 2 {
		k = 2
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}

// STORE CONFIG BELOW

type StoreConfig struct {
	DBName   string `json:"dbName"`   // the name of the commit fact database
	InMemory bool   `json:"inMemory"` // hold commit facts in memory only (tests and simulations)
}

// DefaultStoreConfig() returns the developer set store options
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DBName: DBDirectory,
	}
}
