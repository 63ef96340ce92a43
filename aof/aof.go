package aof

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/connection"
	"github.com/verdis-db/verdis/redis/parser"
	"github.com/verdis-db/verdis/redis/protocol"
)

// CmdLine is alias for [][]byte, represents a command line
type CmdLine = [][]byte

const aofQueueSize = 1 << 16

type payload struct {
	cmdLine CmdLine
	dbIndex int
}

// Persister receives commands from a channel and writes them to the append
// only file in arrival order, framing records with SELECT whenever the target
// db differs from the file's current one
type Persister struct {
	db         database.DBEngine
	tmpDBMaker func() database.DBEngine

	aofChan     chan *payload
	aofFile     *os.File
	aofFilename string
	aofFsync    string
	// aof goroutine will send a message through this channel when it finished writing and is ready to shut down
	aofFinished chan struct{}
	// pause aof for the duration of a rewrite
	pausingAof sync.Mutex
	currentDB  int

	fsyncDone chan struct{}
}

// NewPersister creates a Persister and replays the existing file into db when load is set
func NewPersister(db database.DBEngine, filename string, load bool, fsync string,
	tmpDBMaker func() database.DBEngine) (*Persister, error) {
	persister := &Persister{
		db:          db,
		tmpDBMaker:  tmpDBMaker,
		aofFilename: filename,
		aofFsync:    fsync,
		currentDB:   0,
	}
	if load {
		persister.LoadAof(0)
	}
	aofFile, err := os.OpenFile(persister.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open aof file")
	}
	persister.aofFile = aofFile
	persister.aofChan = make(chan *payload, aofQueueSize)
	persister.aofFinished = make(chan struct{})
	persister.fsyncDone = make(chan struct{})
	go persister.listenCmd()
	if persister.aofFsync == config.FsyncEverySec {
		go persister.fsyncEverySecond()
	}
	return persister, nil
}

// SaveCmdLine sends an executed command to the aof goroutine.
// Under the always fsync policy the record is written and synced in the
// calling goroutine instead, so the command is durable before its reply.
func (persister *Persister) SaveCmdLine(dbIndex int, cmdLine CmdLine) {
	if persister.aofChan == nil {
		return
	}
	p := &payload{
		cmdLine: cmdLine,
		dbIndex: dbIndex,
	}
	if persister.aofFsync == config.FsyncAlways {
		persister.writeAof(p)
		return
	}
	persister.aofChan <- p
}

// listenCmd drains the aof channel and writes records to the file
func (persister *Persister) listenCmd() {
	for p := range persister.aofChan {
		persister.writeAof(p)
	}
	persister.aofFinished <- struct{}{}
}

func (persister *Persister) writeAof(p *payload) {
	persister.pausingAof.Lock() // hold the lock so a rewrite cannot pause aof halfway through a record
	defer persister.pausingAof.Unlock()
	if p.dbIndex != persister.currentDB {
		selectCmd := utils.ToCmdLine("SELECT", strconv.Itoa(p.dbIndex))
		if _, err := persister.aofFile.Write(protocol.MakeMultiBulkReply(selectCmd).ToBytes()); err != nil {
			logger.Warn(err)
			return // skip this command
		}
		persister.currentDB = p.dbIndex
	}
	if _, err := persister.aofFile.Write(protocol.MakeMultiBulkReply(p.cmdLine).ToBytes()); err != nil {
		logger.Warn(err)
	}
	if persister.aofFsync == config.FsyncAlways {
		if err := persister.aofFile.Sync(); err != nil {
			logger.Warn(err)
		}
	}
}

func (persister *Persister) fsyncEverySecond() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			persister.pausingAof.Lock()
			if err := persister.aofFile.Sync(); err != nil {
				logger.Errorf("fsync failed: %v", err)
			}
			persister.pausingAof.Unlock()
		case <-persister.fsyncDone:
			return
		}
	}
}

// LoadAof replays the append only file into the bound database.
// maxBytes limits how much of the file is read, 0 means the whole file.
func (persister *Persister) LoadAof(maxBytes int) {
	// disarm SaveCmdLine so replayed commands cannot be appended back
	aofChan := persister.aofChan
	persister.aofChan = nil
	defer func(aofChan chan *payload) {
		persister.aofChan = aofChan
	}(aofChan)

	file, err := os.Open(persister.aofFilename)
	if err != nil {
		if _, ok := err.(*os.PathError); ok {
			return
		}
		logger.Warn(errors.Wrap(err, "open aof file"))
		return
	}
	defer file.Close()

	var reader io.Reader
	if maxBytes > 0 {
		reader = io.LimitReader(file, int64(maxBytes))
	} else {
		reader = file
	}
	ch := parser.ParseStream(reader)
	fakeConn := connection.NewFakeConn() // only used to carry the selected db
	for p := range ch {
		if p.Err != nil {
			if p.Err == io.EOF {
				break
			}
			logger.Error(errors.Wrap(p.Err, "parse aof"))
			continue
		}
		if p.Data == nil {
			logger.Error("empty payload in aof")
			continue
		}
		r, ok := p.Data.(*protocol.MultiBulkReply)
		if !ok {
			logger.Error("require multi bulk protocol in aof")
			continue
		}
		ret := persister.db.Exec(fakeConn, r.Args)
		if protocol.IsErrorReply(ret) {
			logger.Error("replay aof command failed: ", string(ret.ToBytes()))
		}
	}
}

// Close gracefully stops the aof persistence procedure
func (persister *Persister) Close() {
	if persister.aofFile != nil {
		close(persister.aofChan)
		<-persister.aofFinished // wait until all pending records hit the disk
		close(persister.fsyncDone)
		if err := persister.aofFile.Close(); err != nil {
			logger.Warn(err)
		}
	}
}
