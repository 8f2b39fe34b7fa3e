package ipc

import "time"

const (
	DefaultConnectTimeout    = 20 * time.Second
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatClock    = 5
	DefaultCloseTimeout      = 2 * time.Second
	DefaultLockPollInterval  = 50 * time.Millisecond

	// connect backoff: short delays while the responder is likely starting,
	// then a steady poll
	connectFastDelay    = 5 * time.Millisecond
	connectSteadyDelay  = 100 * time.Millisecond
	connectFastAttempts = 10
)

// pingChannel carries the internal heartbeat. Declared methods are numbered
// from 1.
const pingChannel = uint32(0)

const pingMethodName = "_ping"

const pongBeat = "pong"

// reservedNames belong to the connection's own control surface and can not be
// declared as methods.
var reservedNames = map[string]struct{}{
	"id":         {},
	"userData":   {},
	"clients":    {},
	"hasClients": {},
	"client":     {},
	"ref":        {},
	"unref":      {},
	"ready":      {},
	"opening":    {},
	"opened":     {},
	"close":      {},
	"closing":    {},
	"closed":     {},
}

// IsReserved reports whether name is part of the control surface.
func IsReserved(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

// lock path below the platform directory, see Config.LockPath
var primaryKeyPath = []string{"corestores", "platform", "primary-key"}
