package pool

import (
	"path"
	"strconv"
	"strings"
)

/*
RoleKey names a pool inside a connection group, or selects several of them.

	  Key        Resolves to
	---------- ------------------------------------
	| MASTER  | the master pool of the group       |
	| SLAVE3  | the third slave pool of the group  |
	| SLAVE*  | any slave, picked by the Strategy  |
	| *       | any node, picked by the Strategy   |
*/
type RoleKey string

const (
	Master   RoleKey = "MASTER"
	AnySlave RoleKey = "SLAVE*"
	AnyNode  RoleKey = "*"
)

const slavePrefix = "SLAVE"

// SlaveRole returns the key of the i-th slave (1-indexed).
func SlaveRole(i int) RoleKey {
	return RoleKey(slavePrefix + strconv.Itoa(i))
}

// IsSelector reports whether the key is a pattern rather than a concrete
// role.
func (r RoleKey) IsSelector() bool {
	return strings.ContainsAny(string(r), "*?[")
}

// Concrete reports whether the key names exactly one pool: MASTER or
// SLAVE<i> with i >= 1.
func (r RoleKey) Concrete() bool {
	if r == Master {
		return true
	}
	s := string(r)
	if !strings.HasPrefix(s, slavePrefix) {
		return false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(s, slavePrefix))
	return err == nil && i >= 1 && SlaveRole(i) == r
}

// Matches reports whether the registered role is selected by r.
func (r RoleKey) Matches(role RoleKey) bool {
	if !r.IsSelector() {
		return r == role
	}
	ok, err := path.Match(string(r), string(role))
	return err == nil && ok
}

// Health of a pool. Unhealthy pools are excluded from selection until a
// health check succeeds.
type Health uint32

const (
	Healthy Health = iota
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Selector names a built-in selection strategy.
type Selector string

const (
	RoundRobin Selector = "RR"
	Random     Selector = "RANDOM"
	Order      Selector = "ORDER"
)
