package domain

import "time"

// Config holds the tunables of the collaboration engine.
type Config struct {
	// GracePeriod is how long a disconnected participant is kept before it is
	// removed, so a quick reconnect does not flap presence for peers.
	GracePeriod     time.Duration
	IdleThreshold   time.Duration
	SweepInterval   time.Duration
	MaxPayloadBytes int
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:     5 * time.Second,
		IdleThreshold:   5 * time.Minute,
		SweepInterval:   time.Minute,
		MaxPayloadBytes: 1024,
	}
}
