package database

import "github.com/verdis-db/verdis/config"

var testServer = MakeBasicServer()

func restoreSlowLogConfig() func() {
	threshold := config.Properties.SlowlogLogSlowerThan
	maxLen := config.Properties.SlowlogMaxLen
	return func() {
		config.Properties.SlowlogLogSlowerThan = threshold
		config.Properties.SlowlogMaxLen = maxLen
	}
}
