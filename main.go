package main

import (
	"fmt"
	"os"

	"github.com/verdis-db/verdis/config"
	database2 "github.com/verdis-db/verdis/database"
	gnetserver "github.com/verdis-db/verdis/gnet"
	"github.com/verdis-db/verdis/lib/logger"
	redisserver "github.com/verdis-db/verdis/redis/server"
	"github.com/verdis-db/verdis/tcp"
)

var banner = `
 _  _  ____  ____  ____  __  ___
/ )( \(  __)(  _ \(    \(  )/ __)
\ \/ / ) _)  )   / ) D ( )( \__ \
 \__/ (____)(__\_)(____/(__)(___/
`

const defaultConfFile = "verdis.conf"

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

func main() {
	print(banner)
	logger.Setup(&logger.Settings{
		Path: "logs",
		Name: "verdis",
		Ext:  "log",
	})
	configFilename := os.Getenv("CONFIG")
	if configFilename == "" {
		if fileExists(defaultConfFile) {
			config.Setup(defaultConfFile)
		}
	} else {
		config.Setup(configFilename)
	}

	listenAddr := fmt.Sprintf("%s:%d", config.Properties.Bind, config.Properties.Port)
	if config.Properties.UseGnet {
		server := gnetserver.NewServer(database2.NewStandaloneServer())
		if err := server.Run("tcp://" + listenAddr); err != nil {
			logger.Error(err)
		}
		return
	}
	err := tcp.ListenAndServeWithSignal(&tcp.Config{
		Address:    listenAddr,
		MaxConnect: config.Properties.MaxClients,
	}, redisserver.MakeHandler())
	if err != nil {
		logger.Error(err)
	}
}
