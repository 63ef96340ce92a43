package database

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdis-db/verdis/aof"
	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/logger"
	boolean "github.com/verdis-db/verdis/lib/sync/atomic"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// Server is a redis compatible database engine holding multiple numbered
// keyspaces, the transaction machinery, the slow query log, the propagation
// sinks and the replication role state
type Server struct {
	dbSet []*atomic.Value // *DB

	// handles AOF persistence
	persister *aof.Persister

	// slow query log
	slowlog *SlowLog

	// replication
	role       int32
	masterMu   sync.Mutex
	masterHost string
	masterPort int
	backlog    *replBacklog

	// clients which issued MONITOR
	monitors *monitorHub

	// counts propagated changes since start up
	dirty int64

	// loading is set while replaying the append only file on boot
	loading boolean.Boolean
}

// NewStandaloneServer creates a standalone redis server
func NewStandaloneServer() *Server {
	server := MakeBasicServer()
	validAof := false
	if config.Properties.AppendOnly {
		validAof = fileExists(config.Properties.AppendFilename)
		persister, err := NewPersister(server, config.Properties.AppendFilename,
			true, config.Properties.AppendFsync)
		if err != nil {
			panic(err)
		}
		server.bindPersister(persister)
	}
	if config.Properties.RDBFilename != "" && !validAof {
		err := server.loadRdbFile()
		if err != nil {
			logger.Error(err)
		}
	}
	return server
}

// MakeBasicServer creates a server only with the in-memory engine, no persistence
func MakeBasicServer() *Server {
	if config.Properties.Databases == 0 {
		config.Properties.Databases = 16
	}
	server := &Server{
		backlog:  makeReplBacklog(),
		monitors: makeMonitorHub(),
		slowlog:  makeSlowLog(),
		role:     masterRole,
	}
	server.dbSet = make([]*atomic.Value, config.Properties.Databases)
	for i := range server.dbSet {
		singleDB := makeDB()
		singleDB.index = i
		singleDB.propagate = server.makePropagateFunc(i)
		holder := &atomic.Value{}
		holder.Store(singleDB)
		server.dbSet[i] = holder
	}
	return server
}

func (server *Server) makePropagateFunc(dbIndex int) func(CmdLine) {
	return func(cmdLine CmdLine) {
		server.propagateCmd(dbIndex, cmdLine)
	}
}

// propagateCmd is the single fan-out point of the propagation sinks, so the
// append only file and the replication backlog always agree on record order
func (server *Server) propagateCmd(dbIndex int, cmdLine CmdLine) {
	if server.loading.Get() {
		return
	}
	atomic.AddInt64(&server.dirty, 1)
	if server.persister != nil {
		server.persister.SaveCmdLine(dbIndex, cmdLine)
	}
	if server.getRole() == masterRole {
		server.backlog.appendRecord(dbIndex, cmdLine)
	}
}

// Exec executes commands from clients
func (server *Server) Exec(c redis.Connection, cmdLine [][]byte) (result redis.Reply) {
	defer func() {
		if err := recover(); err != nil {
			logger.Warn(fmt.Sprintf("error occurs: %v\n%s", err, string(debug.Stack())))
			result = &protocol.UnknownErrReply{}
		}
	}()
	cmdName := strings.ToLower(string(cmdLine[0]))
	if cmdName == "auth" {
		return Auth(c, cmdLine[1:])
	}
	if !isAuthenticated(c) {
		return protocol.MakeErrReply("NOAUTH Authentication required")
	}

	// queueing a command is not an execution, neither the slow log nor the
	// monitors hear about it before EXEC
	if c != nil && c.InMultiState() && !isTxControlCommand(cmdName) {
		return EnqueueCmd(c, cmdLine)
	}

	cmd := cmdTable[cmdName]
	if cmd == nil {
		return protocol.MakeErrReply("ERR unknown command '" + cmdName + "'")
	}
	if !validateArity(cmd.arity, cmdLine) {
		return protocol.MakeArgNumErrReply(cmdName)
	}

	start := time.Now()
	defer func() {
		server.slowlog.Observe(cmdLine, time.Since(start).Microseconds(), c)
	}()
	if cmd.flags&flagSkipMonitor == 0 {
		dbIndex := 0
		if c != nil {
			dbIndex = c.GetDBIndex()
		}
		server.feedMonitors(c, dbIndex, cmdLine)
	}

	// transaction control commands bypass queueing and the read-only gate
	switch cmdName {
	case "multi":
		return StartMulti(c)
	case "discard":
		return server.DiscardMulti(c)
	case "exec":
		return server.execMulti(c)
	case "reset":
		return server.execReset(c)
	case "unwatch":
		return server.execUnwatch(c)
	case "watch":
		if c.InMultiState() {
			return protocol.MakeErrReply("ERR WATCH inside MULTI is not allowed")
		}
		db, errReply := server.selectDB(c.GetDBIndex())
		if errReply != nil {
			return errReply
		}
		return Watch(db, c, cmdLine[1:])
	}

	// a read-only replica refuses writes from everyone but its master
	if !server.loading.Get() && server.getRole() == slaveRole &&
		config.Properties.SlaveReadOnly && c != nil && !c.IsMaster() &&
		cmd.flags&flagWrite > 0 {
		return protocol.MakeErrReply("READONLY You can't write against a read only slave.")
	}

	switch cmdName {
	case "ping":
		return Ping(c, cmdLine[1:])
	case "info":
		return Info(server, cmdLine[1:])
	case "dbsize":
		return DbSize(c, server)
	case "command":
		return execCommand(cmdLine[1:])
	case "config":
		return ExecConfigCommand(cmdLine)
	case "slowlog":
		return server.slowlog.execSlowLogCommand(cmdLine)
	case "monitor":
		return server.execMonitor(c)
	case "client":
		return execClient(c, cmdLine[1:])
	case "slaveof":
		return server.execSlaveOf(c, cmdLine[1:])
	case "select":
		return execSelect(c, server, cmdLine[1:])
	case "flushdb":
		return server.execFlushDB(c.GetDBIndex())
	case "flushall":
		return server.flushAll()
	case "save":
		return SaveRDB(server, cmdLine[1:])
	case "bgsave":
		return BGSaveRDB(server, cmdLine[1:])
	case "bgrewriteaof":
		return BGRewriteAOF(server, cmdLine[1:])
	case "rewriteaof":
		return RewriteAOF(server, cmdLine[1:])
	}

	dbIndex := c.GetDBIndex()
	selectedDB, errReply := server.selectDB(dbIndex)
	if errReply != nil {
		return errReply
	}
	return selectedDB.Exec(c, cmdLine)
}

// AfterClientClose does clean up after a client closed its connection:
// an open transaction is discarded, watched keys are released and the
// connection leaves the monitor list
func (server *Server) AfterClientClose(c redis.Connection) {
	server.discardTransaction(c)
	server.removeMonitor(c)
}

// Close gracefully shuts down the database engine
func (server *Server) Close() {
	if server.persister != nil {
		server.persister.Close()
	}
}

func execSelect(c redis.Connection, server *Server, args [][]byte) redis.Reply {
	dbIndex, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return protocol.MakeErrReply("ERR invalid DB index")
	}
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return protocol.MakeErrReply("ERR DB index is out of range")
	}
	c.SelectDB(dbIndex)
	return protocol.MakeOkReply()
}

// DbSize replies the number of keys in the selected db
func DbSize(c redis.Connection, server *Server) redis.Reply {
	keys, _ := server.GetDBSize(c.GetDBIndex())
	return protocol.MakeIntReply(int64(keys))
}

func (server *Server) execFlushDB(dbIndex int) redis.Reply {
	result := server.flushDB(dbIndex)
	if _, ok := result.(*protocol.OkReply); ok {
		server.propagateCmd(dbIndex, utils.ToCmdLine("FlushDB"))
	}
	return result
}

// flushDB empties the selected database.
// Watchers of keys that existed at flush time go dirty first, then the whole
// DB instance is swapped for a fresh one.
func (server *Server) flushDB(dbIndex int) redis.Reply {
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return protocol.MakeErrReply("ERR DB index is out of range")
	}
	oldDB := server.mustSelectDB(dbIndex)
	oldDB.touchWatchedKeysOnFlush()
	server.loadDB(dbIndex, makeDB())
	return &protocol.OkReply{}
}

func (server *Server) loadDB(dbIndex int, newDB *DB) redis.Reply {
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return protocol.MakeErrReply("ERR DB index is out of range")
	}
	oldDB := server.mustSelectDB(dbIndex)
	newDB.index = dbIndex
	newDB.propagate = oldDB.propagate
	newDB.watched = oldDB.watched // watches survive a flush
	server.dbSet[dbIndex].Store(newDB)
	return &protocol.OkReply{}
}

func (server *Server) flushAll() redis.Reply {
	for i := range server.dbSet {
		server.flushDB(i)
	}
	server.propagateCmd(0, utils.ToCmdLine("FlushAll"))
	return &protocol.OkReply{}
}

func (server *Server) selectDB(dbIndex int) (*DB, *protocol.StandardErrReply) {
	if dbIndex >= len(server.dbSet) || dbIndex < 0 {
		return nil, protocol.MakeErrReply("ERR DB index is out of range")
	}
	return server.dbSet[dbIndex].Load().(*DB), nil
}

func (server *Server) mustSelectDB(dbIndex int) *DB {
	selectedDB, err := server.selectDB(dbIndex)
	if err != nil {
		panic(err)
	}
	return selectedDB
}

// ForEach traverses all the keys in the given database
func (server *Server) ForEach(dbIndex int, cb func(key string, data *database.DataEntity, expiration *time.Time) bool) {
	server.mustSelectDB(dbIndex).ForEach(cb)
}

// GetEntity returns the data entity bound to the given key
func (server *Server) GetEntity(dbIndex int, key string) (*database.DataEntity, bool) {
	return server.mustSelectDB(dbIndex).GetEntity(key)
}

// GetExpiration returns the expiration moment of the given key
func (server *Server) GetExpiration(dbIndex int, key string) *time.Time {
	raw, ok := server.mustSelectDB(dbIndex).ttlMap.Get(key)
	if !ok {
		return nil
	}
	expireTime, _ := raw.(time.Time)
	return &expireTime
}

// GetDBSize returns the key count and the count of keys carrying a ttl
func (server *Server) GetDBSize(dbIndex int) (int, int) {
	db := server.mustSelectDB(dbIndex)
	return db.data.Len(), db.ttlMap.Len()
}

// RWLocks locks keys of the given database for writing and reading
func (server *Server) RWLocks(dbIndex int, writeKeys []string, readKeys []string) {
	server.mustSelectDB(dbIndex).RWLocks(writeKeys, readKeys)
}

// RWUnLocks unlocks keys of the given database
func (server *Server) RWUnLocks(dbIndex int, writeKeys []string, readKeys []string) {
	server.mustSelectDB(dbIndex).RWUnLocks(writeKeys, readKeys)
}

// ExecWithLock executes a normal command, the invoker should hold the locks
func (server *Server) ExecWithLock(conn redis.Connection, cmdLine [][]byte) redis.Reply {
	db, errReply := server.selectDB(conn.GetDBIndex())
	if errReply != nil {
		return errReply
	}
	return db.execWithLock(cmdLine)
}
