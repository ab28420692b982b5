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
	"github.com/sofs11/sofs11/pkg/sofs"
)

var log elog.Logger

var (
	flagVerbose  bool
	flagDebug    bool
	flagLabel    string
	flagInodes   int64
	flagZeroFill bool
)

var rootCmd = &cobra.Command{
	Use:   "mkfs.sofs11 DEVICE",
	Short: "Format a backing file as a SOFS11 volume",
	Long: `mkfs.sofs11 writes a fresh superblock, inode table, and root
directory onto an existing backing file sized to a multiple of the
block size.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := sofs.FormatOptions{
			VolumeName: flagLabel,
			InodeCount: flagInodes,
			ZeroFill:   flagZeroFill,
		}
		if err := sofs.Format(args[0], opts); err != nil {
			return err
		}
		log.Printf("formatted %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.Flags().StringVarP(&flagLabel, "label", "L", "", "volume name")
	rootCmd.Flags().Int64VarP(&flagInodes, "inodes", "N", 4096, "number of inodes to allocate")
	rootCmd.Flags().BoolVarP(&flagZeroFill, "zero-fill", "z", false, "zero every data cluster instead of leaving it unwritten")

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
