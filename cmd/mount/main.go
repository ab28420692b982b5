/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"context"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sofs11/sofs11/pkg/elog"
	"github.com/sofs11/sofs11/pkg/sofs"
	"github.com/sofs11/sofs11/pkg/sofsck"
	"github.com/sofs11/sofs11/pkg/sofsmount"
)

var log elog.Logger

var (
	flagVerbose bool
	flagDebug   bool
	flagUID     uint32
	flagGID     uint32
)

func init() {
	sofs.RepairHook = func(devPath string) error {
		_, err := sofsck.Check(devPath, sofsck.Options{Quiet: true})
		return err
	}
}

var rootCmd = &cobra.Command{
	Use:   "mount.sofs11 DEVICE MOUNTPOINT",
	Short: "Mount a SOFS11 volume via FUSE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		devPath, dir := args[0], args[1]

		v, err := sofs.Mount(devPath)
		if err != nil {
			return err
		}

		server := sofsmount.NewServer(&sofsmount.Config{
			Volume: v,
			Uid:    flagUID,
			Gid:    flagGID,
			Log:    log,
		})

		mfs, err := fuse.Mount(dir, server, &fuse.MountConfig{})
		if err != nil {
			v.Unmount()
			return err
		}
		log.Printf("mounted %s at %s; unmount with fusermount -u %s", devPath, dir, dir)

		// Join blocks until the kernel reports the mount point has been
		// unmounted (fusermount -u), at which point the volume's
		// dirty-mount flag is cleared.
		if err := mfs.Join(context.Background()); err != nil {
			v.Unmount()
			return err
		}
		return v.Unmount()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.Flags().Uint32Var(&flagUID, "uid", 0, "uid to use for access checks")
	rootCmd.Flags().Uint32Var(&flagGID, "gid", 0, "gid to use for access checks")

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
