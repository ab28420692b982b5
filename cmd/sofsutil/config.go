package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "sofsutil.yaml"

// initConfig reads a ~/sofsutil.yaml config file, if one exists, and
// applies its default_uid/default_gid to the flag variables whenever
// the corresponding flag wasn't set on the command line. Absence of a
// config file is not an error: the flag defaults (0/0) stand.
func initConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err != nil {
		log.Debugf("%s", err.Error())
		return
	}
	log.Debugf("using config file: %s", viper.ConfigFileUsed())

	if !uidFlagSet && viper.IsSet("default_uid") {
		flagUID = uint32(viper.GetInt("default_uid"))
	}
	if !gidFlagSet && viper.IsSet("default_gid") {
		flagGID = uint32(viper.GetInt("default_gid"))
	}
}
