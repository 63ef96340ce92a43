package database

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

// monitorHub keeps the connections which issued MONITOR
type monitorHub struct {
	mu    sync.Mutex
	conns []redis.Connection
}

func makeMonitorHub() *monitorHub {
	return &monitorHub{}
}

// execMonitor subscribes the connection to the command feed
func (server *Server) execMonitor(c redis.Connection) redis.Reply {
	hub := server.monitors
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, conn := range hub.conns {
		if conn == c {
			return protocol.MakeOkReply()
		}
	}
	hub.conns = append(hub.conns, c)
	return protocol.MakeOkReply()
}

func (server *Server) removeMonitor(c redis.Connection) {
	hub := server.monitors
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for i, conn := range hub.conns {
		if conn == c {
			hub.conns = append(hub.conns[:i], hub.conns[i+1:]...)
			return
		}
	}
}

// feedMonitors replays a dispatched command to every monitoring connection
// other than the one that issued it
func (server *Server) feedMonitors(c redis.Connection, dbIndex int, cmdLine CmdLine) {
	hub := server.monitors
	hub.mu.Lock()
	if len(hub.conns) == 0 {
		hub.mu.Unlock()
		return
	}
	targets := make([]redis.Connection, len(hub.conns))
	copy(targets, hub.conns)
	hub.mu.Unlock()

	line := renderMonitorLine(c, dbIndex, cmdLine)
	payload := protocol.MakeStatusReply(line).ToBytes()
	for _, conn := range targets {
		if conn == c {
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			server.removeMonitor(conn)
		}
	}
}

func renderMonitorLine(c redis.Connection, dbIndex int, cmdLine CmdLine) string {
	now := time.Now()
	peer := ""
	if c != nil {
		peer = c.RemoteAddr()
	}
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.Unix(), 10))
	b.WriteByte('.')
	micros := strconv.Itoa(now.Nanosecond() / 1000)
	for len(micros) < 6 {
		micros = "0" + micros
	}
	b.WriteString(micros)
	b.WriteString(" [")
	b.WriteString(strconv.Itoa(dbIndex))
	b.WriteByte(' ')
	b.WriteString(peer)
	b.WriteByte(']')
	for _, arg := range cmdLine {
		b.WriteString(" \"")
		b.WriteString(string(arg))
		b.WriteByte('"')
	}
	return b.String()
}
