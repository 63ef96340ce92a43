package database

import (
	"sync"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

// watchedRegistry maps a key to the clients watching it within one db slot.
// The registry outlives FLUSHDB: the replacing DB instance inherits it, so
// watches armed on not-yet-existing keys stay armed.
type watchedRegistry struct {
	mu sync.Mutex
	m  map[string][]redis.Connection
}

func makeWatchedRegistry() *watchedRegistry {
	return &watchedRegistry{
		m: make(map[string][]redis.Connection),
	}
}

// watchKey registers conn as a watcher of key within db.
// The relation is bidirectional: the registry holds the conn, the conn holds
// the (db, key) pair, and both sides are maintained together.
func watchKey(db *DB, conn redis.Connection, key string) {
	// already watching this key in this db?
	for _, wk := range conn.GetWatchedKeys() {
		if wk.DBIndex == db.index && wk.Key == key {
			return
		}
	}
	reg := db.watched
	reg.mu.Lock()
	reg.m[key] = append(reg.m[key], conn)
	reg.mu.Unlock()
	conn.AddWatchedKey(db.index, key)
}

// touchWatchedKeys marks every client watching one of the given keys as dirty,
// so that its next EXEC fails with a null multi bulk
func (db *DB) touchWatchedKeys(keys ...string) {
	reg := db.watched
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.m) == 0 {
		return
	}
	for _, key := range keys {
		for _, conn := range reg.m[key] {
			conn.SetDirtyCAS(true)
		}
	}
}

// touchWatchedKeysOnFlush marks watchers of every key that currently exists.
// Watched keys that do not exist are not removed by the flush, so their
// watchers stay clean.
// The registry snapshot is taken first: command execution acquires shard locks
// before the registry mutex, holding the mutex across shard reads would invert
// that order.
func (db *DB) touchWatchedKeysOnFlush() {
	reg := db.watched
	reg.mu.Lock()
	snapshot := make(map[string][]redis.Connection, len(reg.m))
	for key, conns := range reg.m {
		snapshot[key] = append([]redis.Connection(nil), conns...)
	}
	reg.mu.Unlock()
	for key, conns := range snapshot {
		if _, exists := db.data.Get(key); !exists {
			continue
		}
		for _, conn := range conns {
			conn.SetDirtyCAS(true)
		}
	}
}

// unwatchAll removes conn from the watcher list of every key it watches and
// clears the client side list. Clearing the dirty-CAS flag is up to the caller.
func (server *Server) unwatchAll(conn redis.Connection) {
	for _, wk := range conn.GetWatchedKeys() {
		db, errReply := server.selectDB(wk.DBIndex)
		if errReply != nil {
			continue
		}
		reg := db.watched
		reg.mu.Lock()
		watchers := reg.m[wk.Key]
		for i, c := range watchers {
			if c == conn {
				watchers = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		if len(watchers) == 0 {
			delete(reg.m, wk.Key)
		} else {
			reg.m[wk.Key] = watchers
		}
		reg.mu.Unlock()
	}
	conn.ClearWatchedKeys()
}

// Watch arms optimistic locks on the given keys of the current db
func Watch(db *DB, conn redis.Connection, args [][]byte) redis.Reply {
	for _, bkey := range args {
		watchKey(db, conn, string(bkey))
	}
	return protocol.MakeOkReply()
}

// execUnwatch flushes the watch set and clears the dirty-CAS flag
func (server *Server) execUnwatch(conn redis.Connection) redis.Reply {
	server.unwatchAll(conn)
	conn.SetDirtyCAS(false)
	return protocol.MakeOkReply()
}
