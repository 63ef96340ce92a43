package config

import (
	"bufio"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/verdis-db/verdis/lib/logger"
	"github.com/verdis-db/verdis/lib/utils"
)

// ServerProperties defines global config properties
type ServerProperties struct {
	RunID          string `cfg:"runid"` // runID always different at every exec
	Bind           string `cfg:"bind"`
	Port           int    `cfg:"port"`
	Databases      int    `cfg:"databases"`
	RequirePass    string `cfg:"requirepass"`
	MaxClients     int    `cfg:"maxclients"`
	UseGnet        bool   `cfg:"use-gnet"`

	AppendOnly     bool   `cfg:"appendonly"`
	AppendFilename string `cfg:"appendfilename"`
	AppendFsync    string `cfg:"appendfsync"`
	RDBFilename    string `cfg:"dbfilename"`

	SlaveReadOnly bool `cfg:"slave-read-only"`

	// threshold in microseconds for a command to enter the slow log, negative disables it
	SlowlogLogSlowerThan int `cfg:"slowlog-log-slower-than"`
	// max number of retained slow log entries
	SlowlogMaxLen int `cfg:"slowlog-max-len"`
}

// Properties holds global config properties
var Properties *ServerProperties

func init() {
	// default config
	Properties = defaultProperties()
}

func defaultProperties() *ServerProperties {
	return &ServerProperties{
		RunID:                utils.RandString(40),
		Bind:                 "0.0.0.0",
		Port:                 6399,
		Databases:            16,
		MaxClients:           1000,
		AppendOnly:           false,
		AppendFilename:       "",
		AppendFsync:          FsyncEverySec,
		SlaveReadOnly:        true,
		SlowlogLogSlowerThan: 10000,
		SlowlogMaxLen:        128,
	}
}

// fsync policies for the append only file
const (
	FsyncAlways   = "always"
	FsyncEverySec = "everysec"
	FsyncNo       = "no"
)

// parameters which CONFIG SET may change at runtime
var mutableConfigs = map[string]struct{}{
	"requirepass":             {},
	"maxclients":              {},
	"appendfsync":             {},
	"slave-read-only":         {},
	"slowlog-log-slower-than": {},
	"slowlog-max-len":         {},
}

// IsMutableConfig tells whether the parameter can be changed by CONFIG SET
func IsMutableConfig(parameter string) bool {
	_, ok := mutableConfigs[strings.ToLower(parameter)]
	return ok
}

// CopyProperties returns a copy of the current properties for CONFIG SET to edit
func CopyProperties() *ServerProperties {
	p := *Properties
	return &p
}

func parse(src io.Reader) *ServerProperties {
	config := defaultProperties()

	// read config file
	rawMap := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		pivot := strings.IndexAny(line, " ")
		if pivot > 0 && pivot < len(line)-1 { // separator found
			key := line[0:pivot]
			value := strings.Trim(line[pivot+1:], " ")
			rawMap[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal(err)
	}

	fillProperties(config, rawMap)
	return config
}

func fillProperties(config *ServerProperties, rawMap map[string]string) {
	t := reflect.TypeOf(config)
	v := reflect.ValueOf(config)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok {
			key = field.Name
		}
		value, ok := rawMap[strings.ToLower(key)]
		if !ok {
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(value)
		case reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				fieldVal.SetInt(intValue)
			}
		case reflect.Bool:
			fieldVal.SetBool(toBool(value))
		case reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				slice := strings.Split(value, ",")
				fieldVal.Set(reflect.ValueOf(slice))
			}
		}
	}
}

// Setup reads config file and stores properties into Properties
func Setup(configFilename string) {
	file, err := os.Open(configFilename)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	Properties = parse(file)
}

func toBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "t", "y", "1":
		return true
	default:
		return false
	}
}
