package database

import (
	"strings"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

// txControlCommands bypass queueing while the connection is in multi state
var txControlCommands = map[string]struct{}{
	"multi":   {},
	"exec":    {},
	"discard": {},
	"watch":   {},
	"reset":   {},
}

func isTxControlCommand(cmdName string) bool {
	_, ok := txControlCommands[cmdName]
	return ok
}

// StartMulti starts a multi-command transaction
func StartMulti(conn redis.Connection) redis.Reply {
	if conn.InMultiState() {
		return protocol.MakeErrReply("ERR MULTI calls can not be nested")
	}
	conn.SetMultiState(true)
	return protocol.MakeOkReply()
}

// EnqueueCmd puts command line into the pending queue of the transaction.
// A command failing validation still gets its own error protocol, but it also
// dooms the transaction: the incoming EXEC aborts with EXECABORT.
func EnqueueCmd(conn redis.Connection, cmdLine [][]byte) redis.Reply {
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		err := protocol.MakeErrReply("ERR unknown command '" + cmdName + "'")
		conn.AddTxError(err)
		return err
	}
	if cmd.prepare == nil || cmd.flags&flagSpecial > 0 {
		err := protocol.MakeErrReply("ERR command '" + cmdName + "' cannot be used in MULTI")
		conn.AddTxError(err)
		return err
	}
	if !validateArity(cmd.arity, cmdLine) {
		err := protocol.MakeArgNumErrReply(cmdName)
		conn.AddTxError(err)
		return err
	}
	conn.EnqueueCmd(cmdLine)
	return protocol.MakeQueuedReply()
}

// execMulti executes the queued transaction of conn.
//
// Abort conditions are checked in order: a queueing-time error aborts with
// EXECABORT; a touched watched key aborts with a null multi bulk (a reply with
// success shape, not an error); a write transaction on a read-only replica
// aborts with an error. Otherwise the queued commands run back to back under
// the locks of every key they touch, and a failing command only fails its own
// element of the reply.
func (server *Server) execMulti(conn redis.Connection) redis.Reply {
	if !conn.InMultiState() {
		return protocol.MakeErrReply("ERR EXEC without MULTI")
	}
	if len(conn.GetTxErrors()) > 0 {
		server.discardTransaction(conn)
		return protocol.MakeErrReply("EXECABORT Transaction discarded because of previous errors.")
	}
	if conn.IsDirtyCAS() {
		server.discardTransaction(conn)
		return protocol.MakeNullMultiBulkReply()
	}
	db, errReply := server.selectDB(conn.GetDBIndex())
	if errReply != nil {
		server.discardTransaction(conn)
		return errReply
	}
	cmdLines := conn.GetQueuedCmdLine()
	if !server.loading.Get() && server.getRole() == slaveRole &&
		config.Properties.SlaveReadOnly && !conn.IsMaster() &&
		containsWriteCommand(cmdLines) {
		server.discardTransaction(conn)
		return protocol.MakeErrReply("ERR Transaction contains write commands but instance " +
			"is now a read-only slave. EXEC aborted.")
	}

	// unwatch ASAP, CAS tracking is pure overhead from here on; this is also
	// why a transaction cannot poison itself with its own writes
	server.unwatchAll(conn)

	wasMaster := server.getRole() == masterRole
	writeKeys, readKeys := relatedKeys(cmdLines)
	db.RWLocks(writeKeys, readKeys)
	defer db.RWUnLocks(writeKeys, readKeys)
	db.touchWatchedKeys(writeKeys...)

	mustPropagate := false
	results := make([]redis.Reply, 0, len(cmdLines))
	for _, cmdLine := range cmdLines {
		cmd := cmdTable[strings.ToLower(string(cmdLine[0]))]
		// propagate a MULTI once, before the first command which is neither
		// read only nor administrative, so both sinks see the block as a whole
		if !mustPropagate && cmd.flags&(flagReadOnly|flagAdmin) == 0 {
			db.propagate(utils.ToCmdLine("MULTI"))
			mustPropagate = true
		}
		server.feedMonitors(conn, db.index, cmdLine)
		result := db.execWithLock(cmdLine)
		results = append(results, result)
	}
	if mustPropagate {
		db.propagate(utils.ToCmdLine("EXEC"))
		// demoted from master to slave during the batch: the backlog got the
		// initial MULTI but stopped receiving afterwards, terminate it
		if wasMaster && server.getRole() == slaveRole {
			server.backlog.appendBytes(execTerminatorBytes)
		}
	}
	server.discardTransaction(conn)
	// EXEC is flagged skip-monitor during dispatch, replay it here so monitors
	// see MULTI, the queued commands, then EXEC in this order
	server.feedMonitors(conn, db.index, utils.ToCmdLine("EXEC"))
	return protocol.MakeMultiRawReply(results)
}

// DiscardMulti drops the pending transaction
func (server *Server) DiscardMulti(conn redis.Connection) redis.Reply {
	if !conn.InMultiState() {
		return protocol.MakeErrReply("ERR DISCARD without MULTI")
	}
	server.discardTransaction(conn)
	return protocol.MakeOkReply()
}

// discardTransaction releases the queue, the tx errors, the dirty-CAS flag and
// every watched key of conn
func (server *Server) discardTransaction(conn redis.Connection) {
	server.unwatchAll(conn)
	conn.ClearQueuedCmds()
	conn.SetDirtyCAS(false)
	conn.SetMultiState(false)
}

// execReset puts the connection back into its initial state
func (server *Server) execReset(conn redis.Connection) redis.Reply {
	server.discardTransaction(conn)
	conn.SelectDB(0)
	conn.SetName("")
	return protocol.MakeStatusReply("RESET")
}

func relatedKeys(cmdLines []CmdLine) ([]string, []string) {
	writeKeys := make([]string, 0) // may contain duplicates
	readKeys := make([]string, 0)
	for _, cmdLine := range cmdLines {
		cmd := cmdTable[strings.ToLower(string(cmdLine[0]))]
		write, read := cmd.prepare(cmdLine[1:])
		writeKeys = append(writeKeys, write...)
		readKeys = append(readKeys, read...)
	}
	return writeKeys, readKeys
}

func containsWriteCommand(cmdLines []CmdLine) bool {
	for _, cmdLine := range cmdLines {
		if isWriteCommand(string(cmdLine[0])) {
			return true
		}
	}
	return false
}
