package database

import (
	"strconv"
	"time"

	"github.com/verdis-db/verdis/aof"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

// execDel removes a key from db
func execDel(db *DB, args [][]byte) redis.Reply {
	keys := make([]string, len(args))
	for i, v := range args {
		keys[i] = string(v)
	}

	deleted := db.Removes(keys...)
	if deleted > 0 {
		db.propagate(utils.ToCmdLine3("del", args...))
	}
	return protocol.MakeIntReply(int64(deleted))
}

// execExists checks if the given keys exist in db
func execExists(db *DB, args [][]byte) redis.Reply {
	result := int64(0)
	for _, arg := range args {
		key := string(arg)
		_, exists := db.GetEntity(key)
		if exists {
			result++
		}
	}
	return protocol.MakeIntReply(result)
}

// execType returns the type of entity, this keyspace stores strings only
func execType(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	entity, exists := db.GetEntity(key)
	if !exists {
		return protocol.MakeStatusReply("none")
	}
	switch entity.Data.(type) {
	case []byte:
		return protocol.MakeStatusReply("string")
	}
	return &protocol.UnknownErrReply{}
}

// execExpire sets a key's time to live in seconds
func execExpire(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	ttlArg, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	ttl := time.Duration(ttlArg) * time.Second
	_, exists := db.GetEntity(key)
	if !exists {
		return protocol.MakeIntReply(0)
	}
	expireAt := time.Now().Add(ttl)
	db.Expire(key, expireAt)
	db.propagate(aof.MakeExpireCmd(key, expireAt).Args)
	return protocol.MakeIntReply(1)
}

// execPExpireAt sets the absolute expiration moment in milliseconds, this is
// also the command every relative expiry is rewritten to before propagation
func execPExpireAt(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	raw, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	expireAt := time.Unix(0, raw*int64(time.Millisecond))
	_, exists := db.GetEntity(key)
	if !exists {
		return protocol.MakeIntReply(0)
	}
	db.Expire(key, expireAt)
	db.propagate(aof.MakeExpireCmd(key, expireAt).Args)
	return protocol.MakeIntReply(1)
}

// execTTL returns a key's remaining time to live in seconds
func execTTL(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	_, exists := db.GetEntity(key)
	if !exists {
		return protocol.MakeIntReply(-2)
	}
	raw, exists := db.ttlMap.Get(key)
	if !exists {
		return protocol.MakeIntReply(-1)
	}
	expireTime, _ := raw.(time.Time)
	ttl := expireTime.Sub(time.Now())
	return protocol.MakeIntReply(int64(ttl / time.Second))
}

// execPersist removes a key's time to live
func execPersist(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	_, exists := db.GetEntity(key)
	if !exists {
		return protocol.MakeIntReply(0)
	}
	_, exists = db.ttlMap.Get(key)
	if !exists {
		return protocol.MakeIntReply(0)
	}
	db.Persist(key)
	db.propagate(utils.ToCmdLine3("persist", args[0]))
	return protocol.MakeIntReply(1)
}

// execKeys lists keys, only the `*` pattern is supported by this keyspace
func execKeys(db *DB, args [][]byte) redis.Reply {
	pattern := string(args[0])
	if pattern != "*" {
		return protocol.MakeErrReply("ERR unsupported pattern")
	}
	result := make([][]byte, 0, db.data.Len())
	db.data.ForEach(func(key string, val interface{}) bool {
		if !db.IsExpired(key) {
			result = append(result, []byte(key))
		}
		return true
	})
	return protocol.MakeMultiBulkReply(result)
}

func init() {
	registerCommand("Del", execDel, writeAllKeys, -2, "w")
	registerCommand("Exists", execExists, readAllKeys, -2, "rF")
	registerCommand("Type", execType, readFirstKey, 2, "rF")
	registerCommand("Expire", execExpire, writeFirstKey, 3, "wF")
	registerCommand("PExpireAt", execPExpireAt, writeFirstKey, 3, "wF")
	registerCommand("TTL", execTTL, readFirstKey, 2, "rRF")
	registerCommand("Persist", execPersist, writeFirstKey, 2, "wF")
	registerCommand("Keys", execKeys, noPrepare, 2, "rS")
}
