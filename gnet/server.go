package gnet

import (
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/redis/connection"
)

// client is the per connection context of the event loop engine
type client struct {
	conn *connection.Connection
	// inbound bytes not yet forming a complete command
	buf []byte
}

// Server is a redis server over the gnet event loop engine
type Server struct {
	gnet.BuiltinEventEngine
	eng       gnet.Engine
	connected int32
	db        database.DB
}

// NewServer creates a gnet based redis server
func NewServer(db database.DB) *Server {
	return &Server{
		db: db,
	}
}

// Run serves at the given address ("tcp://127.0.0.1:6399"), blocking until the engine stops
func (s *Server) Run(addr string) error {
	return gnet.Run(s, addr, gnet.WithMulticore(true))
}

func (s *Server) OnBoot(eng gnet.Engine) (action gnet.Action) {
	s.eng = eng
	return
}

func (s *Server) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	cli := &client{
		conn: connection.NewConn(c),
	}
	c.SetContext(cli)
	atomic.AddInt32(&s.connected, 1)
	return
}

func (s *Server) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	if err != nil {
		logger.Infof("error occurred on connection=%s, %v", c.RemoteAddr().String(), err)
	}
	atomic.AddInt32(&s.connected, -1)
	cli := c.Context().(*client)
	s.db.AfterClientClose(cli.conn)
	return
}

func (s *Server) OnTraffic(c gnet.Conn) (action gnet.Action) {
	cli := c.Context().(*client)
	data, _ := c.Next(-1)
	cli.buf = append(cli.buf, data...)

	// batch the replies of every complete command in one outbound write
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	for {
		cmdLine, n, err := decodeCommand(cli.buf)
		if err != nil {
			logger.Infof("parse command line failed: %v", err)
			return gnet.Close
		}
		if n == 0 {
			break
		}
		cli.buf = cli.buf[n:]
		result := s.db.Exec(cli.conn, cmdLine)
		if result != nil {
			_, _ = out.Write(result.ToBytes())
		}
	}
	if out.Len() > 0 {
		// Write is safe here, OnTraffic runs in the connection's event loop
		if _, err := c.Write(out.Bytes()); err != nil {
			return gnet.Close
		}
	}
	return gnet.None
}
