package database

import (
	"strings"
	"testing"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/connection"
	"github.com/verdis-db/verdis/redis/protocol/asserts"
)

func TestSelect(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("select", "1"))
	asserts.AssertNotError(t, result)
	if conn.GetDBIndex() != 1 {
		t.Error("expected db 1 to be selected")
	}
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("set", key, "v"))
	conn2 := connection.NewFakeConn()
	result = testServer.Exec(conn2, utils.ToCmdLine("get", key))
	asserts.AssertNullBulk(t, result) // db 0 does not see db 1's key

	result = testServer.Exec(conn, utils.ToCmdLine("select", "99"))
	asserts.AssertErrReply(t, result, "ERR DB index is out of range")
	result = testServer.Exec(conn, utils.ToCmdLine("select", "a"))
	asserts.AssertErrReply(t, result, "ERR invalid DB index")
	testServer.Exec(conn, utils.ToCmdLine("select", "0"))
	testServer.Exec(conn, utils.ToCmdLine("flushall"))
}

func TestSelectInsideMultiRejected(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	result := testServer.Exec(conn, utils.ToCmdLine("select", "1"))
	asserts.AssertErrReply(t, result, "ERR command 'select' cannot be used in MULTI")
	result = testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertErrReply(t, result, "EXECABORT Transaction discarded because of previous errors.")
}

func TestDBSize(t *testing.T) {
	conn := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	for i := 0; i < 3; i++ {
		testServer.Exec(conn, utils.ToCmdLine("set", utils.RandString(10), "v"))
	}
	result := testServer.Exec(conn, utils.ToCmdLine("dbsize"))
	asserts.AssertIntReply(t, result, 3)
}

func TestFlushDBTouchesExistingWatchedKeys(t *testing.T) {
	conn := connection.NewFakeConn()
	conn2 := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn2, utils.ToCmdLine("set", key, "v"))
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn2, utils.ToCmdLine("flushdb"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "w"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	// the flush removed the watched key, the transaction must not run
	asserts.AssertNullMultiBulk(t, result)
}

func TestFlushDBSparesAbsentWatchedKeys(t *testing.T) {
	conn := connection.NewFakeConn()
	conn2 := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn2, utils.ToCmdLine("flushdb"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "w"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	// the key never existed, the flush did not remove it, the watch holds
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, "w")
}

func TestWatchSurvivesFlush(t *testing.T) {
	conn := connection.NewFakeConn()
	conn2 := connection.NewFakeConn()
	testServer.Exec(conn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	testServer.Exec(conn, utils.ToCmdLine("watch", key))
	testServer.Exec(conn2, utils.ToCmdLine("flushdb"))
	// the watch stays armed on the replacing db instance
	testServer.Exec(conn2, utils.ToCmdLine("set", key, "v"))
	testServer.Exec(conn, utils.ToCmdLine("multi"))
	testServer.Exec(conn, utils.ToCmdLine("set", key, "w"))
	result := testServer.Exec(conn, utils.ToCmdLine("exec"))
	asserts.AssertNullMultiBulk(t, result)
}

func TestUnknownCommand(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("nosuchcmd"))
	asserts.AssertErrReply(t, result, "ERR unknown command 'nosuchcmd'")
}

func TestAuth(t *testing.T) {
	passwd := utils.RandString(10)
	config.Properties.RequirePass = passwd
	defer func() {
		config.Properties.RequirePass = ""
	}()
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("ping"))
	asserts.AssertErrReply(t, result, "NOAUTH Authentication required")
	result = testServer.Exec(conn, utils.ToCmdLine("auth", "wrong"))
	asserts.AssertErrReply(t, result, "ERR invalid password")
	result = testServer.Exec(conn, utils.ToCmdLine("auth", passwd))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("ping"))
	asserts.AssertStatusReply(t, result, "PONG")
}

func TestPing(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("ping"))
	asserts.AssertStatusReply(t, result, "PONG")
	result = testServer.Exec(conn, utils.ToCmdLine("ping", "hello"))
	asserts.AssertStatusReply(t, result, "hello")
	result = testServer.Exec(conn, utils.ToCmdLine("ping", "a", "b"))
	asserts.AssertErrReply(t, result, "ERR wrong number of arguments for 'ping' command")
}

func TestClientName(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("client", "getname"))
	asserts.AssertNullBulk(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("client", "setname", "worker-1"))
	asserts.AssertNotError(t, result)
	result = testServer.Exec(conn, utils.ToCmdLine("client", "setname", "has space"))
	if string(result.ToBytes())[0] != '-' {
		t.Error("expected an error for a name with spaces")
	}
	result = testServer.Exec(conn, utils.ToCmdLine("client", "getname"))
	asserts.AssertBulkReply(t, result, "worker-1")
}

func TestInfo(t *testing.T) {
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("info", "replication"))
	if !strings.Contains(string(result.ToBytes()), "role:master") {
		t.Errorf("expected replication section, got %q", string(result.ToBytes()))
	}
}

func TestConfigGetSet(t *testing.T) {
	defer restoreSlowLogConfig()()
	conn := connection.NewFakeConn()
	result := testServer.Exec(conn, utils.ToCmdLine("config", "set", "slowlog-max-len", "7"))
	asserts.AssertNotError(t, result)
	if config.Properties.SlowlogMaxLen != 7 {
		t.Errorf("expected slowlog-max-len 7, got %d", config.Properties.SlowlogMaxLen)
	}
	result = testServer.Exec(conn, utils.ToCmdLine("config", "get", "slowlog-max-len"))
	asserts.AssertMultiBulkReply(t, result, []string{"slowlog-max-len", "7"})
	result = testServer.Exec(conn, utils.ToCmdLine("config", "set", "slowlog-log-slower-than", "-1"))
	asserts.AssertNotError(t, result)
	if config.Properties.SlowlogLogSlowerThan != -1 {
		t.Errorf("expected threshold -1, got %d", config.Properties.SlowlogLogSlowerThan)
	}
	result = testServer.Exec(conn, utils.ToCmdLine("config", "set", "bind", "1.2.3.4"))
	if string(result.ToBytes())[0] != '-' {
		t.Error("expected an error for immutable config")
	}
}
