package database

import (
	"bytes"
	"strings"
	"testing"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/connection"
	"github.com/verdis-db/verdis/redis/protocol"
	"github.com/verdis-db/verdis/redis/protocol/asserts"
)

// demoteTarget is flipped to slave by the failover-demote test command,
// simulating a SLAVEOF arriving in the middle of an EXEC
var demoteTarget *Server

func init() {
	registerCommand("failover-demote", func(db *DB, args [][]byte) redis.Reply {
		demoteTarget.setRole(slaveRole)
		return protocol.MakeOkReply()
	}, noPrepare, 1, "w")
}

func recordPropagation(server *Server, dbIndex int) *[][][]byte {
	records := new([][][]byte)
	db := server.mustSelectDB(dbIndex)
	db.propagate = func(line CmdLine) {
		dup := make(CmdLine, len(line))
		copy(dup, line)
		*records = append(*records, dup)
	}
	return records
}

func assertRecordedCommands(t *testing.T, records [][][]byte, expected []string) {
	t.Helper()
	if len(records) != len(expected) {
		t.Fatalf("expected %d propagated records, got %d", len(expected), len(records))
	}
	for i, name := range expected {
		got := strings.ToLower(string(records[i][0]))
		if got != strings.ToLower(name) {
			t.Errorf("record %d: expected %s, got %s", i, name, got)
		}
	}
}

func TestExecPropagatesContiguousBlock(t *testing.T) {
	server := MakeBasicServer()
	records := recordPropagation(server, 0)
	conn := connection.NewFakeConn()
	server.Exec(conn, utils.ToCmdLine("multi"))
	server.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	server.Exec(conn, utils.ToCmdLine("get", "a"))
	server.Exec(conn, utils.ToCmdLine("set", "b", "2"))
	result := server.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
	// the synthetic MULTI precedes the first write, EXEC closes the block,
	// the read contributes nothing
	assertRecordedCommands(t, *records, []string{"multi", "set", "set", "exec"})
}

func TestReadOnlyBatchNotPropagated(t *testing.T) {
	server := MakeBasicServer()
	records := recordPropagation(server, 0)
	conn := connection.NewFakeConn()
	server.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	*records = (*records)[:0]
	server.Exec(conn, utils.ToCmdLine("multi"))
	server.Exec(conn, utils.ToCmdLine("get", "a"))
	server.Exec(conn, utils.ToCmdLine("exists", "a"))
	result := server.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
	if len(*records) != 0 {
		t.Errorf("a read only batch must not propagate, got %d records", len(*records))
	}
}

func TestSingleWritePropagates(t *testing.T) {
	server := MakeBasicServer()
	records := recordPropagation(server, 0)
	conn := connection.NewFakeConn()
	server.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	server.Exec(conn, utils.ToCmdLine("get", "a"))
	server.Exec(conn, utils.ToCmdLine("del", "a"))
	assertRecordedCommands(t, *records, []string{"set", "del"})
}

func TestBacklogFraming(t *testing.T) {
	server := MakeBasicServer()
	conn := connection.NewFakeConn()
	server.Exec(conn, utils.ToCmdLine("set", "k", "v"))
	buf, offset := server.backlog.snapshot()
	if offset != int64(len(buf)) {
		t.Errorf("offset %d does not match buffer length %d", offset, len(buf))
	}
	// records are framed as multi bulks, prefixed by a db selector
	selectRecord := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", "0")).ToBytes()
	setRecord := protocol.MakeMultiBulkReply(utils.ToCmdLine("set", "k", "v")).ToBytes()
	expected := append(append([]byte{}, selectRecord...), setRecord...)
	if !bytes.Equal(buf, expected) {
		t.Errorf("unexpected backlog content %q, want %q", buf, expected)
	}
}

func TestDemotionMidExecTerminatesBacklog(t *testing.T) {
	server := MakeBasicServer()
	demoteTarget = server
	conn := connection.NewFakeConn()
	server.Exec(conn, utils.ToCmdLine("multi"))
	server.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	server.Exec(conn, utils.ToCmdLine("failover-demote"))
	server.Exec(conn, utils.ToCmdLine("set", "b", "2"))
	result := server.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)

	if server.getRole() != slaveRole {
		t.Fatal("server should have been demoted")
	}
	buf, _ := server.backlog.snapshot()
	if !bytes.HasSuffix(buf, execTerminatorBytes) {
		t.Errorf("backlog should be terminated by a literal EXEC, got %q", buf)
	}
	// the write after the demotion still applied locally
	result = server.Exec(conn, utils.ToCmdLine("get", "b"))
	asserts.AssertBulkReply(t, result, "2")
}

func TestSlaveOfSwitchesRole(t *testing.T) {
	server := MakeBasicServer()
	conn := connection.NewFakeConn()
	result := server.Exec(conn, utils.ToCmdLine("slaveof", "127.0.0.1", "6399"))
	asserts.AssertNotError(t, result)
	if server.getRole() != slaveRole {
		t.Error("expected slave role")
	}
	result = server.Exec(conn, utils.ToCmdLine("slaveof", "no", "one"))
	asserts.AssertNotError(t, result)
	if server.getRole() != masterRole {
		t.Error("expected master role")
	}
	result = server.Exec(conn, utils.ToCmdLine("slaveof", "127.0.0.1", "notaport"))
	asserts.AssertErrReply(t, result, "ERR Invalid master port")
}

func TestBacklogPausedWhileSlave(t *testing.T) {
	server := MakeBasicServer()
	conn := connection.NewFakeConn()
	conn.SetMaster() // the link from our master may write through the gate
	server.setRole(slaveRole)
	_, before := server.backlog.snapshot()
	server.Exec(conn, utils.ToCmdLine("set", "k", "v"))
	_, after := server.backlog.snapshot()
	if before != after {
		t.Error("a slave must not feed its own backlog")
	}
}
