package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/verdis-db/verdis/aof"
	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

func (db *DB) getAsString(key string) ([]byte, protocol.ErrorReply) {
	entity, ok := db.GetEntity(key)
	if !ok {
		return nil, nil
	}
	bytes, ok := entity.Data.([]byte)
	if !ok {
		return nil, &protocol.WrongTypeErrReply{}
	}
	return bytes, nil
}

// execGet returns string value bound to the given key
func execGet(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	bytes, err := db.getAsString(key)
	if err != nil {
		return err
	}
	if bytes == nil {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(bytes)
}

const (
	upsertPolicy = iota // default
	insertPolicy        // set nx
	updatePolicy        // set xx
)

const unlimitedTTL int64 = 0

// execSet sets string value and time to live to the given key
func execSet(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	value := args[1]
	policy := upsertPolicy
	ttl := unlimitedTTL

	// parse options
	if len(args) > 2 {
		for i := 2; i < len(args); i++ {
			arg := strings.ToUpper(string(args[i]))
			if arg == "NX" { // insert
				if policy == updatePolicy { // NX & XX are mutually exclusive
					return &protocol.SyntaxErrReply{}
				}
				policy = insertPolicy
			} else if arg == "XX" { // update policy
				if policy == insertPolicy {
					return &protocol.SyntaxErrReply{}
				}
				policy = updatePolicy
			} else if arg == "EX" { // ttl in seconds
				if ttl != unlimitedTTL || i+1 >= len(args) {
					return &protocol.SyntaxErrReply{}
				}
				ttlArg, err := strconv.ParseInt(string(args[i+1]), 10, 64)
				if err != nil {
					return &protocol.SyntaxErrReply{}
				}
				if ttlArg <= 0 {
					return protocol.MakeErrReply("ERR invalid expire time in set")
				}
				ttl = ttlArg * 1000
				i++
			} else if arg == "PX" { // ttl in milliseconds
				if ttl != unlimitedTTL || i+1 >= len(args) {
					return &protocol.SyntaxErrReply{}
				}
				ttlArg, err := strconv.ParseInt(string(args[i+1]), 10, 64)
				if err != nil {
					return &protocol.SyntaxErrReply{}
				}
				if ttlArg <= 0 {
					return protocol.MakeErrReply("ERR invalid expire time in set")
				}
				ttl = ttlArg
				i++
			} else {
				return &protocol.SyntaxErrReply{}
			}
		}
	}

	entity := &database.DataEntity{
		Data: value,
	}

	var result int
	switch policy {
	case upsertPolicy:
		result = 1
		db.PutEntity(key, entity)
	case insertPolicy:
		result = db.PutIfAbsent(key, entity)
	case updatePolicy:
		result = db.PutIfExists(key, entity)
	}
	if result > 0 {
		if ttl != unlimitedTTL {
			expireTime := time.Now().Add(time.Duration(ttl) * time.Millisecond)
			db.Expire(key, expireTime)
			db.propagate(utils.ToCmdLine3("set", args[0], args[1]))
			db.propagate(aof.MakeExpireCmd(key, expireTime).Args)
		} else {
			db.Persist(key) // override ttl
			db.propagate(utils.ToCmdLine3("set", args...))
		}
		return protocol.MakeOkReply()
	}
	return protocol.MakeNullBulkReply()
}

// execSetNX sets string if not exists
func execSetNX(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	value := args[1]
	entity := &database.DataEntity{
		Data: value,
	}
	result := db.PutIfAbsent(key, entity)
	if result > 0 {
		db.propagate(utils.ToCmdLine3("setnx", args...))
	}
	return protocol.MakeIntReply(int64(result))
}

// execGetSet sets value of a string-type key and returns its old value
func execGetSet(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	value := args[1]

	old, err := db.getAsString(key)
	if err != nil {
		return err
	}
	db.PutEntity(key, &database.DataEntity{Data: value})
	db.Persist(key) // override ttl
	db.propagate(utils.ToCmdLine3("set", args[0], args[1]))
	if old == nil {
		return protocol.MakeNullBulkReply()
	}
	return protocol.MakeBulkReply(old)
}

// execIncr increments the integer value of a key by one
func execIncr(db *DB, args [][]byte) redis.Reply {
	return incrBy(db, args[0], 1, "incr")
}

// execDecr decrements the integer value of a key by one
func execDecr(db *DB, args [][]byte) redis.Reply {
	return incrBy(db, args[0], -1, "decr")
}

// execIncrBy increments the integer value of a key by given value
func execIncrBy(db *DB, args [][]byte) redis.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return incrBy(db, args[0], delta, "incrby")
}

// execDecrBy decrements the integer value of a key by given value
func execDecrBy(db *DB, args [][]byte) redis.Reply {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return protocol.MakeErrReply("ERR value is not an integer or out of range")
	}
	return incrBy(db, args[0], -delta, "decrby")
}

func incrBy(db *DB, rawKey []byte, delta int64, cmdName string) redis.Reply {
	key := string(rawKey)
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	var val int64
	if bytes != nil {
		var err error
		val, err = strconv.ParseInt(string(bytes), 10, 64)
		if err != nil {
			return protocol.MakeErrReply("ERR value is not an integer or out of range")
		}
	}
	val += delta
	db.PutEntity(key, &database.DataEntity{
		Data: []byte(strconv.FormatInt(val, 10)),
	})
	db.propagate(utils.ToCmdLine("set", key, strconv.FormatInt(val, 10)))
	return protocol.MakeIntReply(val)
}

// execAppend appends value at the end of the string stored at key
func execAppend(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	bytes = append(bytes, args[1]...)
	db.PutEntity(key, &database.DataEntity{
		Data: bytes,
	})
	db.propagate(utils.ToCmdLine3("append", args...))
	return protocol.MakeIntReply(int64(len(bytes)))
}

// execStrLen returns length of the string value bound to the given key
func execStrLen(db *DB, args [][]byte) redis.Reply {
	key := string(args[0])
	bytes, errReply := db.getAsString(key)
	if errReply != nil {
		return errReply
	}
	return protocol.MakeIntReply(int64(len(bytes)))
}

func init() {
	registerCommand("Get", execGet, readFirstKey, 2, "rF")
	registerCommand("Set", execSet, writeFirstKey, -3, "w")
	registerCommand("SetNX", execSetNX, writeFirstKey, 3, "wF")
	registerCommand("GetSet", execGetSet, writeFirstKey, 3, "w")
	registerCommand("Incr", execIncr, writeFirstKey, 2, "wF")
	registerCommand("Decr", execDecr, writeFirstKey, 2, "wF")
	registerCommand("IncrBy", execIncrBy, writeFirstKey, 3, "wF")
	registerCommand("DecrBy", execDecrBy, writeFirstKey, 3, "wF")
	registerCommand("Append", execAppend, writeFirstKey, 3, "w")
	registerCommand("StrLen", execStrLen, readFirstKey, 2, "rF")
}
