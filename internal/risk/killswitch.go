package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KillSwitch is the process-wide latched trade stop. The risk checker trips
// it when the total-loss limit is breached; once tripped every order is
// rejected until an explicit Reset. Transitions are monotonic: false → true
// by Trip, true → false only by Reset.
type KillSwitch struct {
	mu        sync.RWMutex
	active    bool
	reason    string
	trippedAt time.Time
}

// NewKillSwitch returns an inactive switch
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Trip latches the switch. The first reason wins; repeated trips are no-ops.
func (k *KillSwitch) Trip(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return
	}
	k.active = true
	k.reason = reason
	k.trippedAt = time.Now()
	log.Error().Str("reason", reason).Msg("🛑 KILL SWITCH TRIPPED - all trading halted")
}

// Reset clears the switch
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		log.Warn().Str("reason", k.reason).Msg("Kill switch reset")
	}
	k.active = false
	k.reason = ""
}

// IsActive reports the latched state and its reason
func (k *KillSwitch) IsActive() (bool, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active, k.reason
}
