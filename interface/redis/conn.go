package redis

// WatchedKey identifies a watched key; a client may watch keys across databases
type WatchedKey struct {
	DBIndex int
	Key     string
}

// Connection represents a connection with redis client
type Connection interface {
	Write([]byte) (int, error)
	Close() error
	RemoteAddr() string

	SetPassword(string)
	GetPassword() string

	// client name, set by CLIENT SETNAME, recorded by the slow log
	SetName(string)
	GetName() string

	// used for `Multi` command
	InMultiState() bool
	SetMultiState(bool)
	GetQueuedCmdLine() [][][]byte
	EnqueueCmd([][]byte)
	ClearQueuedCmds()
	AddTxError(err error)
	GetTxErrors() []error

	// optimistic locking within `Watch` and `Exec`
	GetWatchedKeys() []WatchedKey
	AddWatchedKey(dbIndex int, key string)
	ClearWatchedKeys()
	SetDirtyCAS(bool)
	IsDirtyCAS() bool

	// used for multi database
	GetDBIndex() int
	SelectDB(int)

	// the connection from our master is exempt from the read-only check
	SetMaster()
	IsMaster() bool
}
