package database

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

const (
	masterRole = int32(iota)
	slaveRole
)

// execTerminatorBytes closes a MULTI block in the replication backlog when the
// instance got demoted in the middle of an EXEC
var execTerminatorBytes = []byte("*1\r\n$4\r\nEXEC\r\n")

// replBacklog buffers the replication stream for replicas to catch up from.
// Records enter in execution order, framed like the append only file: a
// SELECT record precedes commands targeting a db other than the current one.
type replBacklog struct {
	mu            sync.Mutex
	buf           []byte
	beginOffset   int64
	currentOffset int64
	currentDB     int
}

func makeReplBacklog() *replBacklog {
	return &replBacklog{
		currentDB: -1,
	}
}

func (backlog *replBacklog) appendBytes(bin []byte) {
	backlog.mu.Lock()
	defer backlog.mu.Unlock()
	backlog.buf = append(backlog.buf, bin...)
	backlog.currentOffset += int64(len(bin))
}

func (backlog *replBacklog) appendRecord(dbIndex int, cmdLine CmdLine) {
	backlog.mu.Lock()
	defer backlog.mu.Unlock()
	if dbIndex != backlog.currentDB {
		selectCmd := utils.ToCmdLine("SELECT", strconv.Itoa(dbIndex))
		bin := protocol.MakeMultiBulkReply(selectCmd).ToBytes()
		backlog.buf = append(backlog.buf, bin...)
		backlog.currentOffset += int64(len(bin))
		backlog.currentDB = dbIndex
	}
	bin := protocol.MakeMultiBulkReply(cmdLine).ToBytes()
	backlog.buf = append(backlog.buf, bin...)
	backlog.currentOffset += int64(len(bin))
}

func (backlog *replBacklog) snapshot() ([]byte, int64) {
	backlog.mu.Lock()
	defer backlog.mu.Unlock()
	dup := make([]byte, len(backlog.buf))
	copy(dup, backlog.buf)
	return dup, backlog.currentOffset
}

func (server *Server) getRole() int32 {
	return atomic.LoadInt32(&server.role)
}

func (server *Server) setRole(role int32) {
	atomic.StoreInt32(&server.role, role)
}

// execSlaveOf handles SLAVEOF host port and SLAVEOF NO ONE.
// Only the role state and the backlog live here, the replication transport is
// driven by its own component.
func (server *Server) execSlaveOf(c redis.Connection, args [][]byte) redis.Reply {
	host := string(args[0])
	port := string(args[1])
	if strings.EqualFold(host, "no") && strings.EqualFold(port, "one") {
		server.masterMu.Lock()
		server.masterHost = ""
		server.masterPort = 0
		server.masterMu.Unlock()
		server.setRole(masterRole)
		logger.Info("MASTER MODE enabled")
		return protocol.MakeOkReply()
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum <= 0 || portNum > 65535 {
		return protocol.MakeErrReply("ERR Invalid master port")
	}
	server.masterMu.Lock()
	server.masterHost = host
	server.masterPort = portNum
	server.masterMu.Unlock()
	server.setRole(slaveRole)
	logger.Infof("SLAVE OF %s:%d enabled", host, portNum)
	return protocol.MakeOkReply()
}
