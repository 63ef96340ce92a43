package database

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

var startUpTime = time.Now()

// Ping the server
func Ping(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) == 0 {
		return &protocol.PongReply{}
	} else if len(args) == 1 {
		return protocol.MakeStatusReply(string(args[0]))
	}
	return protocol.MakeErrReply("ERR wrong number of arguments for 'ping' command")
}

// Auth validates client's password
func Auth(c redis.Connection, args [][]byte) redis.Reply {
	if len(args) != 1 {
		return protocol.MakeErrReply("ERR wrong number of arguments for 'auth' command")
	}
	if config.Properties.RequirePass == "" {
		return protocol.MakeErrReply("ERR Client sent AUTH, but no password is set")
	}
	passwd := string(args[0])
	c.SetPassword(passwd)
	if config.Properties.RequirePass != passwd {
		return protocol.MakeErrReply("ERR invalid password")
	}
	return &protocol.OkReply{}
}

func isAuthenticated(c redis.Connection) bool {
	if config.Properties.RequirePass == "" {
		return true
	}
	return c.GetPassword() == config.Properties.RequirePass
}

// Info generates the string replied to the INFO command
func Info(server *Server, args [][]byte) redis.Reply {
	section := "all"
	if len(args) == 1 {
		section = strings.ToLower(string(args[0]))
	} else if len(args) > 1 {
		return protocol.MakeArgNumErrReply("info")
	}
	var b strings.Builder
	switch section {
	case "all", "default", "everything":
		b.WriteString(serverInfo())
		b.WriteString(replicationInfo(server))
	case "server":
		b.WriteString(serverInfo())
	case "replication":
		b.WriteString(replicationInfo(server))
	default:
		return protocol.MakeBulkReply([]byte{})
	}
	return protocol.MakeBulkReply([]byte(b.String()))
}

func serverInfo() string {
	return fmt.Sprintf("# Server\r\n"+
		"run_id:%s\r\n"+
		"os:%s %s\r\n"+
		"process_id:%d\r\n"+
		"tcp_port:%d\r\n"+
		"uptime_in_seconds:%d\r\n",
		config.Properties.RunID,
		runtime.GOOS, runtime.GOARCH,
		os.Getpid(),
		config.Properties.Port,
		int(time.Since(startUpTime).Seconds()))
}

func replicationInfo(server *Server) string {
	role := "master"
	if server.getRole() == slaveRole {
		role = "slave"
	}
	return fmt.Sprintf("# Replication\r\n"+
		"role:%s\r\n"+
		"slave_read_only:%d\r\n",
		role,
		boolToInt(config.Properties.SlaveReadOnly))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// execClient handles CLIENT SETNAME/GETNAME, the name ends up in slow log entries
func execClient(c redis.Connection, args [][]byte) redis.Reply {
	subCmd := strings.ToLower(string(args[0]))
	switch subCmd {
	case "setname":
		if len(args) != 2 {
			return protocol.MakeArgNumErrReply("client|setname")
		}
		name := string(args[1])
		if strings.ContainsAny(name, " \n") {
			return protocol.MakeErrReply("ERR Client names cannot contain spaces, newlines or special characters.")
		}
		c.SetName(name)
		return protocol.MakeOkReply()
	case "getname":
		if len(args) != 1 {
			return protocol.MakeArgNumErrReply("client|getname")
		}
		name := c.GetName()
		if name == "" {
			return protocol.MakeNullBulkReply()
		}
		return protocol.MakeBulkReply([]byte(name))
	default:
		return protocol.MakeErrReply("ERR Unknown CLIENT subcommand or wrong number of arguments for '" +
			string(args[0]) + "'")
	}
}
