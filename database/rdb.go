package database

import (
	"os"
	"strconv"
	"time"

	rdbenc "github.com/hdt3213/rdb/encoder"
	"github.com/hdt3213/rdb/core"
	rdb "github.com/hdt3213/rdb/parser"
	"github.com/pkg/errors"

	"github.com/verdis-db/verdis/aof"
	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/database"
	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/redis/protocol"
	"github.com/verdis-db/verdis/interface/redis"
)

// NewPersister creates an aof.Persister bound to this server, replaying the
// existing file first when load is set
func NewPersister(server *Server, filename string, load bool, fsync string) (*aof.Persister, error) {
	server.loading.Set(true)
	defer server.loading.Set(false)
	return aof.NewPersister(server, filename, load, fsync, func() database.DBEngine {
		return MakeBasicServer()
	})
}

func (server *Server) bindPersister(persister *aof.Persister) {
	server.persister = persister
}

// loadRdbFile loads the rdb file from disk on boot
func (server *Server) loadRdbFile() error {
	rdbFile, err := os.Open(config.Properties.RDBFilename)
	if err != nil {
		return errors.Wrap(err, "open rdb file")
	}
	defer func() {
		_ = rdbFile.Close()
	}()
	decoder := rdb.NewDecoder(rdbFile)
	server.loading.Set(true)
	defer server.loading.Set(false)
	if err = server.LoadRDB(decoder); err != nil {
		return errors.Wrap(err, "load rdb file")
	}
	return nil
}

// LoadRDB real implementation of loading rdb file
func (server *Server) LoadRDB(dec *core.Decoder) error {
	return dec.Parse(func(o rdb.RedisObject) bool {
		db := server.mustSelectDB(o.GetDBIndex())
		var entity *database.DataEntity
		switch o.GetType() {
		case rdb.StringType:
			str := o.(*rdb.StringObject)
			entity = &database.DataEntity{
				Data: str.Value,
			}
		default:
			// this keyspace stores strings only
			logger.Warnf("skip %s key %s in rdb file", o.GetType(), o.GetKey())
		}
		if entity != nil {
			db.PutEntity(o.GetKey(), entity)
			if o.GetExpiration() != nil {
				db.Expire(o.GetKey(), *o.GetExpiration())
			}
		}
		return true
	})
}

// GenerateRDB dumps the live keyspace into an rdb file
func (server *Server) GenerateRDB(rdbFilename string) error {
	tmpFile, err := os.CreateTemp("", "*.rdb")
	if err != nil {
		return errors.Wrap(err, "create temp rdb file")
	}
	encoder := rdbenc.NewEncoder(tmpFile).EnableCompress()
	if err = encoder.WriteHeader(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	auxMap := map[string]string{
		"redis-ver":    "6.0.0",
		"redis-bits":   "64",
		"aof-preamble": "0",
		"ctime":        strconv.FormatInt(time.Now().Unix(), 10),
	}
	for k, v := range auxMap {
		if err = encoder.WriteAux(k, v); err != nil {
			_ = tmpFile.Close()
			return err
		}
	}

	for i := 0; i < config.Properties.Databases; i++ {
		keyCount, ttlCount := server.GetDBSize(i)
		if keyCount == 0 {
			continue
		}
		if err = encoder.WriteDBHeader(uint(i), uint64(keyCount), uint64(ttlCount)); err != nil {
			_ = tmpFile.Close()
			return err
		}
		var err2 error
		server.ForEach(i, func(key string, entity *database.DataEntity, expiration *time.Time) bool {
			var opts []interface{}
			if expiration != nil {
				opts = append(opts, rdbenc.WithTTL(uint64(expiration.UnixNano()/1e6)))
			}
			switch obj := entity.Data.(type) {
			case []byte:
				err2 = encoder.WriteStringObject(key, obj, opts...)
			}
			return err2 == nil
		})
		if err2 != nil {
			_ = tmpFile.Close()
			return err2
		}
	}
	if err = encoder.WriteEnd(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err = tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpFile.Name(), rdbFilename)
}

// SaveRDB starts an rdb dump and blocks until it is done
func SaveRDB(server *Server, args [][]byte) redis.Reply {
	rdbFilename := config.Properties.RDBFilename
	if rdbFilename == "" {
		rdbFilename = "dump.rdb"
	}
	if err := server.GenerateRDB(rdbFilename); err != nil {
		return protocol.MakeErrReply(err.Error())
	}
	return protocol.MakeOkReply()
}

// BGSaveRDB dumps the keyspace asynchronously
func BGSaveRDB(server *Server, args [][]byte) redis.Reply {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(err)
			}
		}()
		rdbFilename := config.Properties.RDBFilename
		if rdbFilename == "" {
			rdbFilename = "dump.rdb"
		}
		if err := server.GenerateRDB(rdbFilename); err != nil {
			logger.Error(err)
		}
	}()
	return protocol.MakeStatusReply("Background saving started")
}

// BGRewriteAOF rewrites the append only file asynchronously
func BGRewriteAOF(server *Server, args [][]byte) redis.Reply {
	if server.persister == nil {
		return protocol.MakeErrReply("ERR AppendOnly is false, you can't rewrite aof file")
	}
	go func() {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(err)
			}
		}()
		if err := server.persister.Rewrite(); err != nil {
			logger.Error(err)
		}
	}()
	return protocol.MakeStatusReply("Background append only file rewriting started")
}

// RewriteAOF rewrites the append only file and blocks until it is done
func RewriteAOF(server *Server, args [][]byte) redis.Reply {
	if server.persister == nil {
		return protocol.MakeErrReply("ERR AppendOnly is false, you can't rewrite aof file")
	}
	if err := server.persister.Rewrite(); err != nil {
		return protocol.MakeErrReply(err.Error())
	}
	return protocol.MakeOkReply()
}
