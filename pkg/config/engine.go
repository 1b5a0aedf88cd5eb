package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDEngine is the identifier for the injection engine settings section
	SectionIDEngine = "engine"

	// Default values for engine settings
	defaultDebounceWindow     = 1 * time.Second
	defaultURLPollInterval    = 1 * time.Second
	defaultProbeMaxAttempts   = 5
	defaultProbeDelay         = 1500 * time.Millisecond
	defaultControlStaleness   = 10 * time.Minute
	defaultDisplayDelay       = 2500 * time.Millisecond
	defaultObserverLifetime   = 30 * time.Minute
	defaultSelfCheckInterval  = 15 * time.Second
	defaultContextCacheTTL    = 5 * time.Second
	defaultGenerationTimeout  = 45 * time.Second
	defaultRelayListenAddr    = "127.0.0.1:8475"
)

// EngineSection manages the injection engine's timing and lifecycle tunables.
// Durations are persisted as strings in Go duration syntax ("1s", "10m").
type EngineSection struct {
	// DebounceWindow is how long the page must stay quiet after the last
	// injection attempt before a scan pass runs.
	DebounceWindow time.Duration

	// URLPollInterval is how often the current location is polled for
	// content swaps that fire no navigation event.
	URLPollInterval time.Duration

	// ProbeMaxAttempts bounds the content-based surface probe.
	ProbeMaxAttempts int

	// ProbeDelay is the fixed delay between probe attempts.
	ProbeDelay time.Duration

	// ControlStaleness is the age at which a tracked control is purged
	// even if it is still attached to the document.
	ControlStaleness time.Duration

	// DisplayDelay is how long success/error control states are shown
	// before reverting to idle.
	DisplayDelay time.Duration

	// ObserverLifetime is the maximum lifetime of a mutation subscription
	// before it self-disconnects.
	ObserverLifetime time.Duration

	// SelfCheckInterval is how often the coordinator re-asserts that its
	// subscriptions are still attached.
	SelfCheckInterval time.Duration

	// ContextCacheTTL is how long an extracted review context stays valid.
	ContextCacheTTL time.Duration

	// GenerationTimeout bounds one generation round trip.
	GenerationTimeout time.Duration

	// RelayListenAddr is the local address the cross-surface relay binds to.
	RelayListenAddr string

	mu sync.RWMutex
}

// NewEngineSection creates a new engine section with default settings.
func NewEngineSection() *EngineSection {
	return &EngineSection{
		DebounceWindow:    defaultDebounceWindow,
		URLPollInterval:   defaultURLPollInterval,
		ProbeMaxAttempts:  defaultProbeMaxAttempts,
		ProbeDelay:        defaultProbeDelay,
		ControlStaleness:  defaultControlStaleness,
		DisplayDelay:      defaultDisplayDelay,
		ObserverLifetime:  defaultObserverLifetime,
		SelfCheckInterval: defaultSelfCheckInterval,
		ContextCacheTTL:   defaultContextCacheTTL,
		GenerationTimeout: defaultGenerationTimeout,
		RelayListenAddr:   defaultRelayListenAddr,
	}
}

// ID returns the section identifier.
func (s *EngineSection) ID() string {
	return SectionIDEngine
}

// Title returns the section title.
func (s *EngineSection) Title() string {
	return "Engine Settings"
}

// Description returns the section description.
func (s *EngineSection) Description() string {
	return "Timing and lifecycle tunables for surface detection, control injection, and cleanup."
}

// Data returns the current configuration data.
func (s *EngineSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"debounce_window":     s.DebounceWindow.String(),
		"url_poll_interval":   s.URLPollInterval.String(),
		"probe_max_attempts":  s.ProbeMaxAttempts,
		"probe_delay":         s.ProbeDelay.String(),
		"control_staleness":   s.ControlStaleness.String(),
		"display_delay":       s.DisplayDelay.String(),
		"observer_lifetime":   s.ObserverLifetime.String(),
		"self_check_interval": s.SelfCheckInterval.String(),
		"context_cache_ttl":   s.ContextCacheTTL.String(),
		"generation_timeout":  s.GenerationTimeout.String(),
		"relay_listen_addr":   s.RelayListenAddr,
	}
}

// SetData updates the configuration from the provided data.
func (s *EngineSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	durations := map[string]*time.Duration{
		"debounce_window":     &s.DebounceWindow,
		"url_poll_interval":   &s.URLPollInterval,
		"probe_delay":         &s.ProbeDelay,
		"control_staleness":   &s.ControlStaleness,
		"display_delay":       &s.DisplayDelay,
		"observer_lifetime":   &s.ObserverLifetime,
		"self_check_interval": &s.SelfCheckInterval,
		"context_cache_ttl":   &s.ContextCacheTTL,
		"generation_timeout":  &s.GenerationTimeout,
	}

	for key, value := range data {
		if target, ok := durations[key]; ok {
			parsed, err := parseDurationValue(key, value)
			if err != nil {
				return err
			}
			*target = parsed
			continue
		}

		switch key {
		case "probe_max_attempts":
			switch v := value.(type) {
			case int:
				s.ProbeMaxAttempts = v
			case float64:
				// JSON numbers come as float64
				s.ProbeMaxAttempts = int(v)
			default:
				return fmt.Errorf("invalid value type for probe_max_attempts: expected number, got %T", value)
			}

		case "relay_listen_addr":
			addr, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for relay_listen_addr: expected string, got %T", value)
			}
			s.RelayListenAddr = addr

		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
	}

	return nil
}

func parseDurationValue(key string, value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		duration, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return duration, nil
	case float64:
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, value)
	}
}

// Validate validates the current configuration.
func (s *EngineSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.DebounceWindow < 100*time.Millisecond || s.DebounceWindow > 30*time.Second {
		return fmt.Errorf("debounce_window must be between 100ms and 30s, got %v", s.DebounceWindow)
	}
	if s.URLPollInterval < 100*time.Millisecond {
		return fmt.Errorf("url_poll_interval must be at least 100ms, got %v", s.URLPollInterval)
	}
	if s.ProbeMaxAttempts < 1 || s.ProbeMaxAttempts > 50 {
		return fmt.Errorf("probe_max_attempts must be between 1 and 50, got %d", s.ProbeMaxAttempts)
	}
	if s.ControlStaleness < time.Minute {
		return fmt.Errorf("control_staleness must be at least 1m, got %v", s.ControlStaleness)
	}
	if s.DisplayDelay < 100*time.Millisecond || s.DisplayDelay > 30*time.Second {
		return fmt.Errorf("display_delay must be between 100ms and 30s, got %v", s.DisplayDelay)
	}
	if s.ObserverLifetime < time.Minute {
		return fmt.Errorf("observer_lifetime must be at least 1m, got %v", s.ObserverLifetime)
	}
	if s.GenerationTimeout < time.Second {
		return fmt.Errorf("generation_timeout must be at least 1s, got %v", s.GenerationTimeout)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *EngineSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DebounceWindow = defaultDebounceWindow
	s.URLPollInterval = defaultURLPollInterval
	s.ProbeMaxAttempts = defaultProbeMaxAttempts
	s.ProbeDelay = defaultProbeDelay
	s.ControlStaleness = defaultControlStaleness
	s.DisplayDelay = defaultDisplayDelay
	s.ObserverLifetime = defaultObserverLifetime
	s.SelfCheckInterval = defaultSelfCheckInterval
	s.ContextCacheTTL = defaultContextCacheTTL
	s.GenerationTimeout = defaultGenerationTimeout
	s.RelayListenAddr = defaultRelayListenAddr
}

// Snapshot returns a copy of the current tunables for handing to engine
// components. The copy is safe to read without further locking.
func (s *EngineSection) Snapshot() EngineTunables {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return EngineTunables{
		DebounceWindow:    s.DebounceWindow,
		URLPollInterval:   s.URLPollInterval,
		ProbeMaxAttempts:  s.ProbeMaxAttempts,
		ProbeDelay:        s.ProbeDelay,
		ControlStaleness:  s.ControlStaleness,
		DisplayDelay:      s.DisplayDelay,
		ObserverLifetime:  s.ObserverLifetime,
		SelfCheckInterval: s.SelfCheckInterval,
		ContextCacheTTL:   s.ContextCacheTTL,
		GenerationTimeout: s.GenerationTimeout,
		RelayListenAddr:   s.RelayListenAddr,
	}
}

// EngineTunables is an immutable snapshot of the engine section.
type EngineTunables struct {
	DebounceWindow    time.Duration
	URLPollInterval   time.Duration
	ProbeMaxAttempts  int
	ProbeDelay        time.Duration
	ControlStaleness  time.Duration
	DisplayDelay      time.Duration
	ObserverLifetime  time.Duration
	SelfCheckInterval time.Duration
	ContextCacheTTL   time.Duration
	GenerationTimeout time.Duration
	RelayListenAddr   string
}
