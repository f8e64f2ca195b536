package radio

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio.
// Default: ~98.4% connection reliability with realistic timing.
type SimulationConfig struct {
	// MTU - ATT payload limits
	MinMTU     int // Default: 23 bytes (BLE 4.0 minimum)
	MaxMTU     int // Default: 512 bytes
	DefaultMTU int // Default: 185 bytes (common negotiated value)

	// Adapter bring-up (in milliseconds)
	PowerOnDelay int // Default: 100ms

	// Connection timing (in milliseconds)
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0.016

	// Discovery timing (in milliseconds)
	MinDiscoveryDelay     int // Default: 100ms
	MaxDiscoveryDelay     int // Default: 1000ms
	ServiceDiscoveryDelay int // Default: 50ms

	// Radio characteristics
	EnableRSSI   bool // Default: true
	BaseRSSI     int  // Default: -50 dBm
	RSSIVariance int  // Default: 10 dBm

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

// DefaultSimulationConfig returns realistic radio simulation parameters
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MinMTU:     23,
		MaxMTU:     512,
		DefaultMTU: 185,

		PowerOnDelay: 100,

		MinConnectionDelay:    30,
		MaxConnectionDelay:    100,
		ConnectionFailureRate: 0.016,

		MinDiscoveryDelay:     100,
		MaxDiscoveryDelay:     1000,
		ServiceDiscoveryDelay: 50,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,
	}
}

// PerfectSimulationConfig returns a 100% reliable, zero-delay config for tests
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.PowerOnDelay = 0
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.MinDiscoveryDelay = 0
	cfg.MaxDiscoveryDelay = 0
	cfg.ServiceDiscoveryDelay = 0
	cfg.Deterministic = true
	return cfg
}

// Validate checks the config for values the simulator cannot honor
func (c *SimulationConfig) Validate() error {
	if c.MinMTU < 23 {
		return fmt.Errorf("min MTU %d below BLE minimum of 23", c.MinMTU)
	}
	if c.DefaultMTU < c.MinMTU || c.DefaultMTU > c.MaxMTU {
		return fmt.Errorf("default MTU %d outside [%d, %d]", c.DefaultMTU, c.MinMTU, c.MaxMTU)
	}
	if c.MinConnectionDelay > c.MaxConnectionDelay {
		return fmt.Errorf("min connection delay %dms exceeds max %dms", c.MinConnectionDelay, c.MaxConnectionDelay)
	}
	if c.MinDiscoveryDelay > c.MaxDiscoveryDelay {
		return fmt.Errorf("min discovery delay %dms exceeds max %dms", c.MinDiscoveryDelay, c.MaxDiscoveryDelay)
	}
	if c.ConnectionFailureRate < 0 || c.ConnectionFailureRate > 1 {
		return fmt.Errorf("connection failure rate %.3f outside [0, 1]", c.ConnectionFailureRate)
	}
	return nil
}

// Simulator draws the random parts of radio behavior
type Simulator struct {
	config *SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a new simulator; nil config means DefaultSimulationConfig
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	seed := time.Now().UnixNano()
	if config.Deterministic {
		seed = config.Seed
	}

	return &Simulator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Config returns the active config
func (s *Simulator) Config() *SimulationConfig {
	return s.config
}

func (s *Simulator) between(minMs, maxMs int) time.Duration {
	if minMs >= maxMs {
		return time.Duration(minMs) * time.Millisecond
	}
	s.mu.Lock()
	delay := minMs + s.rng.Intn(maxMs-minMs)
	s.mu.Unlock()
	return time.Duration(delay) * time.Millisecond
}

// ShouldConnectionSucceed returns true if the connection attempt should succeed
func (s *Simulator) ShouldConnectionSucceed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.config.ConnectionFailureRate
}

// ConnectionDelay returns a realistic connection delay
func (s *Simulator) ConnectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

// DiscoveryDelay returns a realistic advertisement discovery delay
func (s *Simulator) DiscoveryDelay() time.Duration {
	return s.between(s.config.MinDiscoveryDelay, s.config.MaxDiscoveryDelay)
}

// ServiceDiscoveryDelay returns the GATT discovery delay
func (s *Simulator) ServiceDiscoveryDelay() time.Duration {
	return time.Duration(s.config.ServiceDiscoveryDelay) * time.Millisecond
}

// PowerOnDelay returns the adapter bring-up delay
func (s *Simulator) PowerOnDelay() time.Duration {
	return time.Duration(s.config.PowerOnDelay) * time.Millisecond
}

// GenerateRSSI returns an RSSI value for the given distance in meters
func (s *Simulator) GenerateRSSI(distance float64) int {
	if !s.config.EnableRSSI {
		return s.config.BaseRSSI
	}
	if distance < 0.1 {
		distance = 0.1
	}

	// Free space path loss, simplified: ~20dB per decade of distance
	rssi := float64(s.config.BaseRSSI) - 20*math.Log10(distance)

	if s.config.RSSIVariance > 0 {
		s.mu.Lock()
		variance := s.rng.Intn(s.config.RSSIVariance*2) - s.config.RSSIVariance
		s.mu.Unlock()
		rssi += float64(variance)
	}

	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}
	return int(rssi)
}
