package database

import (
	"strings"

	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

var cmdTable = make(map[string]*command)

type command struct {
	name     string
	executor ExecFunc
	// prepare returns the write keys and read keys the command line touches,
	// used for locking and for CAS bookkeeping. Commands without prepare
	// cannot be queued into a transaction.
	prepare PreFunc
	// arity means allowed number of cmdArgs, arity < 0 means len(args) >= -arity.
	// for example: the arity of `get` is 2, `mget` is -2
	arity int
	flags int
}

// command flag bits, mapped from the flag letters of registerCommand
const (
	flagWrite = 1 << iota
	flagReadOnly
	flagAdmin
	flagNoScript
	flagRandom
	flagSortForScript
	flagLoading
	flagStale
	flagSkipMonitor
	flagAsking
	flagFast
	flagPubSub
	// flagSpecial marks commands dispatched by the server itself instead of an executor
	flagSpecial
)

var flagLetters = map[byte]int{
	'w': flagWrite,
	'r': flagReadOnly,
	'a': flagAdmin,
	's': flagNoScript,
	'R': flagRandom,
	'S': flagSortForScript,
	'l': flagLoading,
	't': flagStale,
	'M': flagSkipMonitor,
	'k': flagAsking,
	'F': flagFast,
	'p': flagPubSub,
}

var flagNames = map[int]string{
	flagWrite:         "write",
	flagReadOnly:      "readonly",
	flagAdmin:         "admin",
	flagNoScript:      "noscript",
	flagRandom:        "random",
	flagSortForScript: "sort_for_script",
	flagLoading:       "loading",
	flagStale:         "stale",
	flagSkipMonitor:   "skip_monitor",
	flagAsking:        "asking",
	flagFast:          "fast",
	flagPubSub:        "pubsub",
}

func parseFlags(s string) int {
	flags := 0
	for i := 0; i < len(s); i++ {
		flags |= flagLetters[s[i]]
	}
	return flags
}

// registerCommand registers a normal command, which only reads or modifies a bounded set of keys
func registerCommand(name string, executor ExecFunc, prepare PreFunc, arity int, flags string) *command {
	name = strings.ToLower(name)
	cmd := &command{
		name:     name,
		executor: executor,
		prepare:  prepare,
		arity:    arity,
		flags:    parseFlags(flags),
	}
	cmdTable[name] = cmd
	return cmd
}

// registerSpecialCommand registers a command dispatched by the server, such as select, flushall, slaveof
func registerSpecialCommand(name string, arity int, flags string) *command {
	name = strings.ToLower(name)
	cmd := &command{
		name:  name,
		arity: arity,
		flags: parseFlags(flags) | flagSpecial,
	}
	cmdTable[name] = cmd
	return cmd
}

func lookupCommand(name string) *command {
	return cmdTable[strings.ToLower(name)]
}

func isWriteCommand(name string) bool {
	cmd := lookupCommand(name)
	return cmd != nil && cmd.flags&flagWrite > 0
}

func validateArity(arity int, cmdArgs [][]byte) bool {
	argNum := len(cmdArgs)
	if arity >= 0 {
		return argNum == arity
	}
	return argNum >= -arity
}

func (cmd *command) toDescReply() redis.Reply {
	signs := make([]redis.Reply, 0, 4)
	for bit, name := range flagNames {
		if cmd.flags&bit > 0 {
			signs = append(signs, protocol.MakeStatusReply(name))
		}
	}
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte(cmd.name)),
		protocol.MakeIntReply(int64(cmd.arity)),
		protocol.MakeMultiRawReply(signs),
	})
}

/* ---- prepare functions ---- */

func writeFirstKey(args [][]byte) ([]string, []string) {
	key := string(args[0])
	return []string{key}, nil
}

func readFirstKey(args [][]byte) ([]string, []string) {
	key := string(args[0])
	return nil, []string{key}
}

func writeAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, key := range args {
		keys[i] = string(key)
	}
	return keys, nil
}

func readAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, key := range args {
		keys[i] = string(key)
	}
	return nil, keys
}

func noPrepare(args [][]byte) ([]string, []string) {
	return nil, nil
}

func execCommand(args [][]byte) redis.Reply {
	if len(args) == 0 {
		return getAllCommandsReply()
	}
	subCommand := strings.ToLower(string(args[0]))
	if subCommand == "info" {
		return getCommands(args[1:])
	} else if subCommand == "count" {
		return protocol.MakeIntReply(int64(len(cmdTable)))
	}
	return protocol.MakeErrReply("Unknown subcommand '" + subCommand + "'")
}

func getCommands(args [][]byte) redis.Reply {
	replies := make([]redis.Reply, len(args))
	for i, v := range args {
		cmd, ok := cmdTable[strings.ToLower(string(v))]
		if ok {
			replies[i] = cmd.toDescReply()
		} else {
			replies[i] = protocol.MakeNullBulkReply()
		}
	}
	return protocol.MakeMultiRawReply(replies)
}

func getAllCommandsReply() redis.Reply {
	replies := make([]redis.Reply, 0, len(cmdTable))
	for _, v := range cmdTable {
		replies = append(replies, v.toDescReply())
	}
	return protocol.MakeMultiRawReply(replies)
}

func init() {
	registerSpecialCommand("Command", -1, "ltR")
	registerSpecialCommand("Auth", 2, "sltF")
	registerSpecialCommand("Info", -1, "ltR")
	registerSpecialCommand("Ping", -1, "tF")
	registerSpecialCommand("Select", 2, "lF")
	registerSpecialCommand("DbSize", 1, "rF")
	registerSpecialCommand("FlushDB", -1, "w")
	registerSpecialCommand("FlushAll", -1, "w")
	registerSpecialCommand("SlaveOf", 3, "ast")
	registerSpecialCommand("Save", 1, "as")
	registerSpecialCommand("BgSave", 1, "as")
	registerSpecialCommand("BgRewriteAof", 1, "as")
	registerSpecialCommand("RewriteAof", 1, "as")
	registerSpecialCommand("Config", -2, "lat")
	registerSpecialCommand("SlowLog", -2, "as")
	registerSpecialCommand("Monitor", 1, "as")
	registerSpecialCommand("Client", -2, "as")

	// transaction commands; Exec is skip-monitor, it is replayed after the batch
	registerSpecialCommand("Multi", 1, "sF")
	registerSpecialCommand("Discard", 1, "sF")
	registerSpecialCommand("Exec", 1, "sM")
	registerSpecialCommand("Watch", -2, "sF")
	registerSpecialCommand("UnWatch", 1, "sF")
	registerSpecialCommand("Reset", 1, "F")
}
