package database

import (
	"testing"

	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/connection"
	"github.com/verdis-db/verdis/redis/protocol"
	"github.com/verdis-db/verdis/redis/protocol/asserts"
)

var testConn = connection.NewFakeConn()

func TestSet(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	value := utils.RandString(10)

	result := testServer.Exec(testConn, utils.ToCmdLine("set", key, value))
	asserts.AssertStatusReply(t, result, "OK")
	result = testServer.Exec(testConn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, value)

	// set nx
	result = testServer.Exec(testConn, utils.ToCmdLine("set", key, value, "NX"))
	asserts.AssertNullBulk(t, result)
	key2 := utils.RandString(10)
	result = testServer.Exec(testConn, utils.ToCmdLine("set", key2, value, "NX"))
	asserts.AssertStatusReply(t, result, "OK")

	// set xx
	key3 := utils.RandString(10)
	result = testServer.Exec(testConn, utils.ToCmdLine("set", key3, value, "XX"))
	asserts.AssertNullBulk(t, result)
	result = testServer.Exec(testConn, utils.ToCmdLine("set", key, "other", "XX"))
	asserts.AssertStatusReply(t, result, "OK")
	result = testServer.Exec(testConn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, "other")

	// mutually exclusive options
	result = testServer.Exec(testConn, utils.ToCmdLine("set", key, value, "NX", "XX"))
	asserts.AssertErrReply(t, result, "Err syntax error")
}

func TestSetNX(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	value := utils.RandString(10)
	result := testServer.Exec(testConn, utils.ToCmdLine("setnx", key, value))
	asserts.AssertIntReply(t, result, 1)
	result = testServer.Exec(testConn, utils.ToCmdLine("setnx", key, value))
	asserts.AssertIntReply(t, result, 0)
}

func TestGetSet(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	value := utils.RandString(10)
	result := testServer.Exec(testConn, utils.ToCmdLine("getset", key, value))
	asserts.AssertNullBulk(t, result)
	value2 := utils.RandString(10)
	result = testServer.Exec(testConn, utils.ToCmdLine("getset", key, value2))
	asserts.AssertBulkReply(t, result, value)
	result = testServer.Exec(testConn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, value2)
}

func TestIncrDecr(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	for i := 0; i < 5; i++ {
		result := testServer.Exec(testConn, utils.ToCmdLine("incr", key))
		asserts.AssertIntReply(t, result, i+1)
	}
	result := testServer.Exec(testConn, utils.ToCmdLine("incrby", key, "5"))
	asserts.AssertIntReply(t, result, 10)
	result = testServer.Exec(testConn, utils.ToCmdLine("decr", key))
	asserts.AssertIntReply(t, result, 9)
	result = testServer.Exec(testConn, utils.ToCmdLine("decrby", key, "9"))
	asserts.AssertIntReply(t, result, 0)

	testServer.Exec(testConn, utils.ToCmdLine("set", key, "notanumber"))
	result = testServer.Exec(testConn, utils.ToCmdLine("incr", key))
	asserts.AssertErrReply(t, result, "ERR value is not an integer or out of range")
}

func TestAppendStrLen(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	value := utils.RandString(10)
	result := testServer.Exec(testConn, utils.ToCmdLine("append", key, value))
	asserts.AssertIntReply(t, result, len(value))
	result = testServer.Exec(testConn, utils.ToCmdLine("append", key, value))
	asserts.AssertIntReply(t, result, 2*len(value))
	result = testServer.Exec(testConn, utils.ToCmdLine("strlen", key))
	asserts.AssertIntReply(t, result, 2*len(value))
	result = testServer.Exec(testConn, utils.ToCmdLine("get", key))
	asserts.AssertBulkReply(t, result, value+value)

	result = testServer.Exec(testConn, utils.ToCmdLine("strlen", utils.RandString(10)))
	asserts.AssertIntReply(t, result, 0)
}

func TestSetWithTTL(t *testing.T) {
	testServer.Exec(testConn, utils.ToCmdLine("FLUSHALL"))
	key := utils.RandString(10)
	value := utils.RandString(10)
	result := testServer.Exec(testConn, utils.ToCmdLine("set", key, value, "EX", "1000"))
	asserts.AssertStatusReply(t, result, "OK")
	result = testServer.Exec(testConn, utils.ToCmdLine("ttl", key))
	intResult, ok := result.(*protocol.IntReply)
	if !ok {
		t.Fatalf("expected int protocol, got %q", string(result.ToBytes()))
	}
	if intResult.Code <= 0 || intResult.Code > 1000 {
		t.Errorf("unexpected ttl %d", intResult.Code)
	}
}
