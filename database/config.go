package database

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/verdis-db/verdis/config"
	"github.com/verdis-db/verdis/interface/redis"
	"github.com/verdis-db/verdis/redis/protocol"
)

// ExecConfigCommand handles CONFIG GET/SET, cmdLine includes the command name
func ExecConfigCommand(cmdLine CmdLine) redis.Reply {
	subCommand := strings.ToUpper(string(cmdLine[1]))
	switch subCommand {
	case "GET":
		if len(cmdLine) < 3 {
			return protocol.MakeArgNumErrReply("config|get")
		}
		return getConfig(cmdLine[2:])
	case "SET":
		return setConfig(cmdLine[2:])
	default:
		return protocol.MakeErrReply(fmt.Sprintf(
			"Unknown subcommand or wrong number of arguments for '%s'", subCommand))
	}
}

func getConfig(args [][]byte) redis.Reply {
	propertiesMap := getPropertiesMap()
	result := make([][]byte, 0)
	for _, arg := range args {
		param := strings.ToLower(string(arg))
		if value, ok := propertiesMap[param]; ok {
			result = append(result, []byte(param), []byte(value))
		}
	}
	return protocol.MakeMultiBulkReply(result)
}

func getPropertiesMap() map[string]string {
	propertiesMap := map[string]string{}
	t := reflect.TypeOf(config.Properties)
	v := reflect.ValueOf(config.Properties)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok || strings.TrimSpace(key) == "" {
			key = field.Name
		}
		var value string
		switch fieldVal.Type().Kind() {
		case reflect.String:
			value = fieldVal.String()
		case reflect.Int:
			value = strconv.Itoa(int(fieldVal.Int()))
		case reflect.Bool:
			if fieldVal.Bool() {
				value = "yes"
			} else {
				value = "no"
			}
		default:
			continue
		}
		propertiesMap[strings.ToLower(key)] = value
	}
	return propertiesMap
}

func setConfig(args [][]byte) redis.Reply {
	if len(args) == 0 || len(args)%2 != 0 {
		return protocol.MakeArgNumErrReply("config|set")
	}
	updateMap := make(map[string]string)
	for i := 0; i < len(args); i += 2 {
		parameter := strings.ToLower(string(args[i]))
		if _, ok := updateMap[parameter]; ok {
			return protocol.MakeErrReply(fmt.Sprintf(
				"ERR CONFIG SET failed (possibly related to argument '%s') - duplicate parameter", parameter))
		}
		updateMap[parameter] = string(args[i+1])
	}
	properties := config.CopyProperties()
	for parameter, value := range updateMap {
		if errReply := updateConfig(properties, parameter, value); errReply != nil {
			return errReply
		}
	}
	config.Properties = properties
	return &protocol.OkReply{}
}

func updateConfig(properties *config.ServerProperties, parameter string, value string) redis.Reply {
	t := reflect.TypeOf(properties)
	v := reflect.ValueOf(properties)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok || strings.TrimSpace(key) == "" {
			key = field.Name
		}
		if strings.ToLower(key) != parameter {
			continue
		}
		if !config.IsMutableConfig(parameter) {
			return protocol.MakeErrReply(fmt.Sprintf(
				"ERR CONFIG SET failed (possibly related to argument '%s') - can't set immutable config", parameter))
		}
		switch fieldVal.Type().Kind() {
		case reflect.String:
			fieldVal.SetString(value)
		case reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return protocol.MakeErrReply(fmt.Sprintf(
					"ERR CONFIG SET failed (possibly related to argument '%s') - argument couldn't be parsed into an integer", parameter))
			}
			fieldVal.SetInt(intValue)
		case reflect.Bool:
			switch strings.ToLower(value) {
			case "yes":
				fieldVal.SetBool(true)
			case "no":
				fieldVal.SetBool(false)
			default:
				return protocol.MakeErrReply(fmt.Sprintf(
					"ERR CONFIG SET failed (possibly related to argument '%s') - argument must be 'yes' or 'no'", parameter))
			}
		}
		return nil
	}
	return protocol.MakeErrReply(fmt.Sprintf(
		"ERR Unknown option or number of arguments for CONFIG SET - '%s'", parameter))
}
