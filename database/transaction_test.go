package database

import (
	"testing"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/connection"
	"github.com/verdis-db/verdis/redis/protocol/asserts"
)

func TestMulti(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	result := testServer.Exec(conn, utils.ToCmdLine("multi"))
	asserts.AssertNotError(t, result)
	key := utils.RandString(10)
	value := utils.RandString(10)
	result = testServer.Exec(conn, utils.ToCmdLine("set", key, value))
	asserts.AssertStatusReply(t, result, "QUEUED")
	key2 := utils.RandString(10)
	result = testServer.Exec(conn, utils.ToCmdLine("set", key2, value))
	asserts.AssertStatusReply(t, result, "QUEUED")
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, value)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key2))
	asserts.AssertBulkReply(t, result, value)
	if conn.InMultiState() {
		t.Error("connection should have left multi state")
	}
	if len(conn.GetQueuedCmdLine()) > 0 {
		t.Error("queue should be reset")
	}
	if len(conn.GetWatchedKeys()) > 0 {
		t.Error("watched keys should be reset")
	}
}

func TestExecBatchReplies(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	testServer.Exec(conn, utils.ToCmdLine("incr", "a"))
	testServer.Exec(conn, utils.ToCmdLine("get", "a"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	expected := "*3\r\n+OK\r\n:2\r\n$1\r\n2\r\n"
	if string(result.ToBytes()) != expected {
		t.Errorf("expected %q, actually %q", expected, string(result.ToBytes()))
	}
}

func TestNestedMulti(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	result := testServer.Exec(conn, utils.ToCmdLine("multi"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("multi"))
	asserts.AssertErrReply(t, result, "ERR MULTI calls can not be nested")
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	if string(result.ToBytes()) != "*0\r\n" {
		t.Errorf("expected empty multi bulk, actually %q", string(result.ToBytes()))
	}
}

func TestSyntaxErrAbortsExec(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	key := utils.RandString(10)
	result := testServer.Exec(conn, utils.ToCmdLine("nosuchcmd", key))
	asserts.AssertErrReply(t, result, "ERR unknown command 'nosuchcmd'")
	result = testServer.Exec(conn, utils.ToCmdLine("set", key, "1"))
	asserts.AssertStatusReply(t, result, "QUEUED")
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertErrReply(t, result, "EXECABORT Transaction discarded because of previous errors.")
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertNullBulk(t, result)
	if conn.InMultiState() {
		t.Error("connection should have left multi state")
	}
}

func TestArityErrAbortsExec(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	result := testServer.Exec(conn, utils.ToCmdLine("set"))
	asserts.AssertErrReply(t, result, "ERR wrong number of arguments for 'set' command")
	testServer.Exec(conn, utils.ToCmdLine("get", "a"))
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertErrReply(t, result, "EXECABORT Transaction discarded because of previous errors.")
}

func TestRuntimeErrDoesNotAbort(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("set", "a", "foo"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("incr", "a"))
	testServer.Exec(conn, utils.ToCmdLine("set", "b", "1"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	expected := "*2\r\n-ERR value is not an integer or out of range\r\n+OK\r\n"
	if string(result.ToBytes()) != expected {
		t.Errorf("expected %q, actually %q", expected, string(result.ToBytes()))
	}
	result = testServer.Exec(conn, utils.ToCmdLine("get", "a"))
	asserts.AssertBulkReply(t, result, "foo")
	result = testServer.Exec(conn, utils.ToCmdLine("get", "b"))
	asserts.AssertBulkReply(t, result, "1")
}

func TestDiscard(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	key := utils.RandString(10)
	value := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("set", key, value))
	result := testServer.Exec(conn, utils.ToCmdLine("discard"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertNullBulk(t, result)
	if conn.InMultiState() {
		t.Error("connection should have left multi state")
	}
	if len(conn.GetQueuedCmdLine()) > 0 {
		t.Error("queue should be reset")
	}
}

func TestExecWithoutMulti(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertErrReply(t, result, "ERR EXEC without MULTI")
}

func TestDiscardWithoutMulti(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("discard"))
	asserts.AssertErrReply(t, result, "ERR DISCARD without MULTI")
}

func TestWatchCASFailure(t *testing.T) {
	conn := connection.NewFakeConn()
	conn2 := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	result := testServer.Exec(conn, utils.ToCmdLine("watch", key))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn2, utils.ToCmdLine("set", key, "x"))
	asserts.AssertNotError(t, result)
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "y"))
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNullMultiBulk(t, result)
	if string(result.ToBytes()) != "*-1\r\n" {
		t.Errorf("expected null multi bulk, actually %q", string(result.ToBytes()))
	}
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, "x")
}

func TestWatchSuccess(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "y"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, "y")
	if len(conn.GetWatchedKeys()) != 0 {
		t.Error("watched keys should be reset after exec")
	}
}

func TestOwnWriteBeforeMultiPoisonsWatch(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	// the watching session's own write counts as a touch like anyone else's
	testServer.Exec(conn, utils.ToCmdLine("set", key, "v"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "w"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNullMultiBulk(t, result)
}

func TestWatchInsideMulti(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	result := testServer.Exec(conn, utils.ToCmdLine("watch", "k"))
	asserts.AssertErrReply(t, result, "ERR WATCH inside MULTI is not allowed")
	testServer.Exec(conn, utils.ToCmdLine("discard"))
}

func TestUnwatchClearsDirtyCAS(t *testing.T) {
	conn := connection.NewFakeConn()
	conn2 := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn2, utils.ToCmdLine("set", key, "x"))
	result := testServer.Exec(conn, utils.ToCmdLine("unwatch"))
	asserts.AssertNotError(t, result)
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "y"))
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, "y")
}

func TestWatchRelationConsistency(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	db := testServer.mustSelectDB(0)
	keys := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		key := utils.RandString(10)
		keys = append(keys, key)
		testServer.Exec(conn, utils.ToCmdLine("watch", key))
	}
	// both sides of the relation agree
	if len(conn.GetWatchedKeys()) != 3 {
		t.Errorf("expected 3 watched keys, got %d", len(conn.GetWatchedKeys()))
	}
	db.watched.mu.Lock()
	for _, key := range keys {
		if len(db.watched.m[key]) != 1 {
			t.Errorf("expected 1 watcher for %s", key)
		}
	}
	db.watched.mu.Unlock()
	// duplicate watch of the same key is a no-op
	testServer.Exec(conn, utils.ToCmdLine("watch", keys[0]))
	if len(conn.GetWatchedKeys()) != 3 {
		t.Error("duplicate watch should not add an entry")
	}
	testServer.Exec(conn, utils.ToCmdLine("unwatch"))
	if len(conn.GetWatchedKeys()) != 0 {
		t.Error("client side watch list should be empty after unwatch")
	}
	db.watched.mu.Lock()
	if len(db.watched.m) != 0 {
		t.Error("db side watcher lists should be empty after unwatch")
	}
	db.watched.mu.Unlock()
}

func TestCloseDiscardsTransaction(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "v"))
	testServer.AfterClientClose(conn)
	if conn.InMultiState() {
		t.Error("connection should have left multi state")
	}
	if len(conn.GetQueuedCmdLine()) > 0 {
		t.Error("queue should be reset")
	}
	db := testServer.mustSelectDB(0)
	db.watched.mu.Lock()
	if len(db.watched.m[key]) != 0 {
		t.Error("db side watcher list should be cleaned on close")
	}
	db.watched.mu.Unlock()
}

func TestReadOnlyReplicaRejectsWriteBatch(t *testing.T) {
	server := MakeBasicServer()
	oldRO := config.Properties.SlaveReadOnly
	config.Properties.SlaveReadOnly = true
	defer func() {
		config.Properties.SlaveReadOnly = oldRO
	}()
	conn := connection.NewFakeConn()
	testKey := utils.RandString(10)
	server.Exec(conn, utils.ToCmdLine("multi"))
	server.Exec(conn, utils.ToCmdLine("set", testKey, "1"))
	server.setRole(slaveRole)
	result := server.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertErrReply(t, result, "ERR Transaction contains write commands but instance "+
		"is now a read-only slave. EXEC aborted.")
	if conn.InMultiState() {
		t.Error("transaction should be discarded")
	}
	// a plain write is rejected too
	result = server.Exec(conn, utils.ToCmdLine("set", testKey, "1"))
	asserts.AssertErrReply(t, result, "READONLY You can't write against a read only slave.")
	// reads still work
	result = server.Exec(conn, utils.ToCmdLine("get", testKey))
	asserts.AssertNullBulk(t, result)
	// a read only transaction passes
	server.Exec(conn, utils.ToCmdLine("multi"))
	server.Exec(conn, utils.ToCmdLine("get", testKey))
	result = server.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNotError(t, result)
}

func TestResetEscapesMultiState(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", "a", "1"))
	result := testServer.Exec(conn, utils.ToCmdLine("reset"))
	asserts.AssertStatusReply(t, result, "RESET")
	if conn.InMultiState() {
		t.Error("connection should have left multi state")
	}
	result = testServer.Exec(conn, utils.ToCmdLine("get", "a"))
	asserts.AssertNullBulk(t, result)
}
