package connection

import (
	"net"
	"sync"
	"time"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/lib/sync/atomic"
	"github.com/verdis-db/verdis/lib/sync/wait"
)

// Connection represents a connection with a redis-cli
type Connection struct {
	conn net.Conn

	// waiting until protocol finished sending
	waitingReply wait.Wait

	// lock while server sending response
	mu sync.Mutex

	// password may be changed by CONFIG command during runtime, so store the password
	password string

	// client name set by CLIENT SETNAME
	name string

	// queued commands for `multi`
	multiState bool
	queue      [][][]byte
	txErrors   []error

	// watched keys and the flag set when one of them is touched
	watchedKeys []redis.WatchedKey
	dirtyCAS    atomic.Boolean

	// selected db
	selectedDB int

	// marks the link from our master, which bypasses the read-only check
	isMaster bool
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Close disconnect with the client
func (c *Connection) Close() error {
	c.waitingReply.WaitWithTimeout(10 * time.Second)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

// NewConn creates Connection instance
func NewConn(conn net.Conn) *Connection {
	return &Connection{
		conn: conn,
	}
}

// Write sends response to client over tcp connection
func (c *Connection) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	c.waitingReply.Add(1)
	defer func() {
		c.waitingReply.Done()
		c.mu.Unlock()
	}()

	return c.conn.Write(b)
}

// SetPassword stores password for authentication
func (c *Connection) SetPassword(password string) {
	c.password = password
}

// GetPassword get password for authentication
func (c *Connection) GetPassword() string {
	return c.password
}

// SetName stores the client name
func (c *Connection) SetName(name string) {
	c.name = name
}

// GetName returns the client name, may be empty
func (c *Connection) GetName() string {
	return c.name
}

// InMultiState tells is connection in an uncommitted transaction
func (c *Connection) InMultiState() bool {
	return c.multiState
}

// SetMultiState sets transaction flag
func (c *Connection) SetMultiState(state bool) {
	if !state { // reset data when cancel multi
		c.queue = nil
		c.txErrors = nil
	}
	c.multiState = state
}

// GetQueuedCmdLine returns queued commands of current transaction
func (c *Connection) GetQueuedCmdLine() [][][]byte {
	return c.queue
}

// EnqueueCmd enqueues command of current transaction
func (c *Connection) EnqueueCmd(cmdLine [][]byte) {
	// duplicate argv so later in-place edits of the inbound buffer cannot reach the queue
	dup := make([][]byte, len(cmdLine))
	for i, arg := range cmdLine {
		dup[i] = make([]byte, len(arg))
		copy(dup[i], arg)
	}
	c.queue = append(c.queue, dup)
}

// ClearQueuedCmds clears queued commands of current transaction
func (c *Connection) ClearQueuedCmds() {
	c.queue = nil
}

// AddTxError stores a command error happened during queueing, it dooms the incoming EXEC
func (c *Connection) AddTxError(err error) {
	c.txErrors = append(c.txErrors, err)
}

// GetTxErrors returns errors happened during queueing
func (c *Connection) GetTxErrors() []error {
	return c.txErrors
}

// GetWatchedKeys returns keys watched by the connection
func (c *Connection) GetWatchedKeys() []redis.WatchedKey {
	return c.watchedKeys
}

// AddWatchedKey records a watched key on the client side
func (c *Connection) AddWatchedKey(dbIndex int, key string) {
	c.watchedKeys = append(c.watchedKeys, redis.WatchedKey{
		DBIndex: dbIndex,
		Key:     key,
	})
}

// ClearWatchedKeys drops the client side watched key list
func (c *Connection) ClearWatchedKeys() {
	c.watchedKeys = nil
}

// SetDirtyCAS marks the connection's transaction as doomed by a touched key.
// It may be called from other clients' goroutines.
func (c *Connection) SetDirtyCAS(flag bool) {
	c.dirtyCAS.Set(flag)
}

// IsDirtyCAS tells whether a watched key has been touched since WATCH
func (c *Connection) IsDirtyCAS() bool {
	return c.dirtyCAS.Get()
}

// GetDBIndex returns selected db
func (c *Connection) GetDBIndex() int {
	return c.selectedDB
}

// SelectDB selects a database
func (c *Connection) SelectDB(dbNum int) {
	c.selectedDB = dbNum
}

// SetMaster marks the connection as the link from our master
func (c *Connection) SetMaster() {
	c.isMaster = true
}

// IsMaster tells whether the connection is the link from our master
func (c *Connection) IsMaster() bool {
	return c.isMaster
}
