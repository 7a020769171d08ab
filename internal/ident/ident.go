// Package ident generates meeting codes and RTC identities
package ident

import (
	"math/rand"
	"sync"
	"time"
)

const (
	MinMeetingCode = 11111
	MaxMeetingCode = 99999
	// MaxIdentity is the exclusive upper bound of RTC identities
	MaxIdentity = 100
)

// Generator hands out meeting codes and RTC identities
type Generator interface {
	// MeetingCode returns a code in [MinMeetingCode, MaxMeetingCode]
	MeetingCode() int
	// Identity returns a numeric RTC identity in [0, MaxIdentity)
	Identity() int
}

// RandomGenerator draws uniformly distributed values from a pseudo random source
type RandomGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator creates a generator seeded from the current time
func NewRandomGenerator() *RandomGenerator {
	return NewSeededGenerator(time.Now().UnixNano())
}

// NewSeededGenerator creates a generator with a fixed seed, for reproducible sequences
func NewSeededGenerator(seed int64) *RandomGenerator {
	return &RandomGenerator{rng: rand.New(rand.NewSource(seed))}
}

// MeetingCode returns a uniformly distributed code in [MinMeetingCode, MaxMeetingCode]
func (g *RandomGenerator) MeetingCode() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(MaxMeetingCode-MinMeetingCode+1) + MinMeetingCode
}

// Identity returns a uniformly distributed identity in [0, MaxIdentity)
func (g *RandomGenerator) Identity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(MaxIdentity)
}

// Fixed always returns the same values
type Fixed struct {
	Code int
	UID  int
}

func (f Fixed) MeetingCode() int { return f.Code }

func (f Fixed) Identity() int { return f.UID }
