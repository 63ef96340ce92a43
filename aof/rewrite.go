package aof

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/lib/utils"
	"github.com/verdis-db/verdis/redis/protocol"
)

// RewriteCtx holds the context of an ongoing aof rewrite procedure
type RewriteCtx struct {
	tmpFile  *os.File
	fileSize int64
	// db index the file was at when the rewrite started
	dbIdx int
}

func (persister *Persister) newRewriteHandler() *Persister {
	h := &Persister{}
	h.aofFilename = persister.aofFilename
	h.db = persister.tmpDBMaker()
	return h
}

// Rewrite replaces the append only file with a compact equivalent.
// New records keep flowing into the old file while the snapshot is dumped,
// the tail written in the meantime is copied over before the swap.
func (persister *Persister) Rewrite() error {
	ctx, err := persister.StartRewrite()
	if err != nil {
		return err
	}
	err = persister.DoRewrite(ctx)
	if err != nil {
		return err
	}
	persister.FinishRewrite(ctx)
	return nil
}

// StartRewrite pauses aof, records the current file boundary and prepares the temp file
func (persister *Persister) StartRewrite() (*RewriteCtx, error) {
	persister.pausingAof.Lock()
	defer persister.pausingAof.Unlock()

	if err := persister.aofFile.Sync(); err != nil {
		return nil, errors.Wrap(err, "fsync before rewrite")
	}

	fileInfo, err := os.Stat(persister.aofFilename)
	if err != nil {
		return nil, errors.Wrap(err, "stat aof file")
	}
	filesize := fileInfo.Size()

	file, err := os.CreateTemp("", "*.aof")
	if err != nil {
		return nil, errors.Wrap(err, "create temp aof file")
	}
	return &RewriteCtx{
		tmpFile:  file,
		fileSize: filesize,
		dbIdx:    persister.currentDB,
	}, nil
}

// DoRewrite dumps a snapshot of the data reachable through the old file into the temp file
func (persister *Persister) DoRewrite(ctx *RewriteCtx) error {
	tmpFile := ctx.tmpFile

	// load the frozen prefix of the aof into a throwaway engine
	tmpAof := persister.newRewriteHandler()
	tmpAof.LoadAof(int(ctx.fileSize))

	for i := 0; i < config.Properties.Databases; i++ {
		data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(i))).ToBytes()
		if _, err := tmpFile.Write(data); err != nil {
			return errors.Wrap(err, "write rewrite select")
		}
		tmpAof.db.ForEach(i, func(key string, entity *database.DataEntity, expiration *time.Time) bool {
			cmd := EntityToCmd(key, entity)
			if cmd != nil {
				_, _ = tmpFile.Write(cmd.ToBytes())
			}
			if expiration != nil {
				expireCmd := MakeExpireCmd(key, *expiration)
				if expireCmd != nil {
					_, _ = tmpFile.Write(expireCmd.ToBytes())
				}
			}
			return true
		})
	}
	return nil
}

// FinishRewrite copies the records appended during the rewrite and swaps the files
func (persister *Persister) FinishRewrite(ctx *RewriteCtx) {
	persister.pausingAof.Lock()
	defer persister.pausingAof.Unlock()

	tmpFile := ctx.tmpFile
	errOccurred := func() bool {
		src, err := os.Open(persister.aofFilename)
		if err != nil {
			logger.Warn("open aofFilename failed: " + err.Error())
			return true
		}
		defer src.Close()
		if _, err = src.Seek(ctx.fileSize, 0); err != nil {
			logger.Warn("seek failed: " + err.Error())
			return true
		}
		// the tail starts in the db context recorded at StartRewrite
		data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(ctx.dbIdx))).ToBytes()
		if _, err = tmpFile.Write(data); err != nil {
			logger.Warn("write select during rewrite failed: " + err.Error())
			return true
		}
		if _, err = io.Copy(tmpFile, src); err != nil {
			logger.Warn("copy aof tail failed: " + err.Error())
			return true
		}
		return false
	}()
	if errOccurred {
		_ = tmpFile.Close()
		return
	}

	_ = persister.aofFile.Close()
	_ = tmpFile.Close()
	if err := os.Rename(tmpFile.Name(), persister.aofFilename); err != nil {
		logger.Warn(err)
	}

	// reopen the new file for appending
	aofFile, err := os.OpenFile(persister.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		panic(err)
	}
	persister.aofFile = aofFile

	// realign the file with the in-memory db cursor
	data := protocol.MakeMultiBulkReply(utils.ToCmdLine("SELECT", strconv.Itoa(persister.currentDB))).ToBytes()
	if _, err := persister.aofFile.Write(data); err != nil {
		panic(err)
	}
}
