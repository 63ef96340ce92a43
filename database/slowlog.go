package database

import (
	"container/list"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

const (
	// at most this many argument slots are retained per entry
	slowLogEntryMaxArgc = 32
	// longer arguments are trimmed to this many bytes
	slowLogEntryMaxString = 128
)

// slowLogEntry remembers one command whose execution exceeded the threshold
type slowLogEntry struct {
	id       int64
	unixTime int64 // wall-clock seconds when the command finished
	duration int64 // execution time in microseconds
	args     [][]byte
	peerID   string
	name     string
}

// SlowLog retains the latest N commands slower than the configured threshold.
// Entries are pushed at the head and evicted from the tail.
type SlowLog struct {
	mu      sync.RWMutex
	entries *list.List
	nextID  int64
}

func makeSlowLog() *SlowLog {
	return &SlowLog{
		entries: list.New(),
	}
}

// makeSlowLogEntry builds an entry from the executed command line.
// The retained argv is bounded: at most slowLogEntryMaxArgc slots, the last of
// which summarizes the overflow, and every retained argument is cut at
// slowLogEntryMaxString bytes with a summary suffix. Retained arguments are
// deep copies, later in-place edits of the live argv cannot reach them.
func (slowLog *SlowLog) makeSlowLogEntry(cmdLine CmdLine, duration int64, peerID string, name string) *slowLogEntry {
	argc := len(cmdLine)
	slargc := argc
	if slargc > slowLogEntryMaxArgc {
		slargc = slowLogEntryMaxArgc
	}
	args := make([][]byte, slargc)
	for j := 0; j < slargc; j++ {
		if slargc != argc && j == slargc-1 {
			args[j] = []byte(fmt.Sprintf("... (%d more arguments)", argc-slargc+1))
			continue
		}
		arg := cmdLine[j]
		if len(arg) > slowLogEntryMaxString {
			trimmed := make([]byte, 0, slowLogEntryMaxString+32)
			trimmed = append(trimmed, arg[:slowLogEntryMaxString]...)
			trimmed = append(trimmed, []byte(fmt.Sprintf("... (%d more bytes)", len(arg)-slowLogEntryMaxString))...)
			args[j] = trimmed
		} else {
			dup := make([]byte, len(arg))
			copy(dup, arg)
			args[j] = dup
		}
	}
	entry := &slowLogEntry{
		id:       slowLog.nextID,
		unixTime: time.Now().Unix(),
		duration: duration,
		args:     args,
		peerID:   peerID,
		name:     name,
	}
	slowLog.nextID++
	return entry
}

// Observe offers an executed command to the slow log.
// A negative threshold disables logging entirely.
func (slowLog *SlowLog) Observe(cmdLine CmdLine, duration int64, c redis.Connection) {
	threshold := config.Properties.SlowlogLogSlowerThan
	if threshold < 0 {
		return
	}
	slowLog.mu.Lock()
	defer slowLog.mu.Unlock()
	if duration >= int64(threshold) {
		peerID := ""
		name := ""
		if c != nil {
			peerID = c.RemoteAddr()
			name = c.GetName()
		}
		slowLog.entries.PushFront(slowLog.makeSlowLogEntry(cmdLine, duration, peerID, name))
	}
	maxLen := config.Properties.SlowlogMaxLen
	if maxLen < 0 {
		maxLen = 0
	}
	for slowLog.entries.Len() > maxLen {
		slowLog.entries.Remove(slowLog.entries.Back())
	}
}

// Len returns the number of retained entries
func (slowLog *SlowLog) Len() int {
	slowLog.mu.RLock()
	defer slowLog.mu.RUnlock()
	return slowLog.entries.Len()
}

// Reset pops all entries
func (slowLog *SlowLog) Reset() {
	slowLog.mu.Lock()
	defer slowLog.mu.Unlock()
	for slowLog.entries.Len() > 0 {
		slowLog.entries.Remove(slowLog.entries.Back())
	}
}

// getEntries returns up to count entries, newest first.
// A negative count returns all of them.
func (slowLog *SlowLog) getEntries(count int) []*slowLogEntry {
	slowLog.mu.RLock()
	defer slowLog.mu.RUnlock()
	result := make([]*slowLogEntry, 0, slowLog.entries.Len())
	for e := slowLog.entries.Front(); e != nil && count != 0; e = e.Next() {
		result = append(result, e.Value.(*slowLogEntry))
		count--
	}
	return result
}

func (entry *slowLogEntry) toReply() redis.Reply {
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeIntReply(entry.id),
		protocol.MakeIntReply(entry.unixTime),
		protocol.MakeIntReply(entry.duration),
		protocol.MakeMultiBulkReply(entry.args),
		protocol.MakeBulkReply([]byte(entry.peerID)),
		protocol.MakeBulkReply([]byte(entry.name)),
	})
}

var slowLogHelpLines = []string{
	"SLOWLOG GET [count] -- Return top entries from the slowlog (default: 10).",
	"    Entries are made of: id, timestamp, time in microseconds,",
	"    arguments array, client IP and port, client name",
	"SLOWLOG LEN -- Return the length of the slowlog.",
	"SLOWLOG RESET -- Reset the slowlog.",
}

// execSlowLogCommand handles SLOWLOG GET/LEN/RESET/HELP, cmdLine includes the command name
func (slowLog *SlowLog) execSlowLogCommand(cmdLine CmdLine) redis.Reply {
	argc := len(cmdLine)
	subCmd := strings.ToLower(string(cmdLine[1]))
	switch {
	case argc == 2 && subCmd == "help":
		lines := make([]redis.Reply, 0, len(slowLogHelpLines))
		for _, line := range slowLogHelpLines {
			lines = append(lines, protocol.MakeBulkReply([]byte(line)))
		}
		return protocol.MakeMultiRawReply(lines)
	case argc == 2 && subCmd == "reset":
		slowLog.Reset()
		return protocol.MakeOkReply()
	case argc == 2 && subCmd == "len":
		return protocol.MakeIntReply(int64(slowLog.Len()))
	case (argc == 2 || argc == 3) && subCmd == "get":
		count := 10
		if argc == 3 {
			n, err := strconv.Atoi(string(cmdLine[2]))
			if err != nil {
				return protocol.MakeErrReply("ERR value is not an integer or out of range")
			}
			count = n
		}
		entries := slowLog.getEntries(count)
		replies := make([]redis.Reply, 0, len(entries))
		for _, entry := range entries {
			replies = append(replies, entry.toReply())
		}
		return protocol.MakeMultiRawReply(replies)
	default:
		return protocol.MakeErrReply("ERR Unknown SLOWLOG subcommand or wrong number of arguments for '" +
			string(cmdLine[1]) + "'")
	}
}
