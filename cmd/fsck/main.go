/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sofs11/sofs11/pkg/elog"
	"github.com/sofs11/sofs11/pkg/sofsck"
)

var log elog.Logger

var (
	flagVerbose bool
	flagDebug   bool
	flagQuiet   bool
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:   "fsck.sofs11 DEVICE",
	Short: "Check a SOFS11 volume offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := sofsck.Check(args[0], sofsck.Options{
			LogFile: flagLogFile,
			Quiet:   flagQuiet,
		})
		if report != nil && !flagQuiet {
			report.Print(os.Stdout)
		}
		if err != nil {
			return err
		}
		log.Printf("%s is clean", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress the findings table")
	rootCmd.Flags().StringVarP(&flagLogFile, "log", "l", "", "append the report to this file as well as stdout")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)
		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}
