/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// sofsutil is an offline inspection and maintenance tool for a SOFS11
// backing file: it mounts the volume (repairing it first if needed),
// runs one subcommand, and unmounts again, the same way the old
// imageutil tree offered a cat/ls/stat surface over a frozen image.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sofs11/sofs11/pkg/elog"
	"github.com/sofs11/sofs11/pkg/sofs"
	"github.com/sofs11/sofs11/pkg/sofsck"
)

var log elog.Logger

var (
	flagVerbose bool
	flagDebug   bool
	flagUID     uint32
	flagGID     uint32
	flagConfig  string

	uidFlagSet bool
	gidFlagSet bool
)

func init() {
	sofs.RepairHook = func(devPath string) error {
		_, err := sofsck.Check(devPath, sofsck.Options{Quiet: true})
		return err
	}
}

func plainTable(rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

func withVolume(devPath string, fn func(v *sofs.Volume) error) error {
	v, err := sofs.Mount(devPath)
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		v.Unmount()
		return err
	}
	return v.Unmount()
}

var rootCmd = &cobra.Command{
	Use:   "sofsutil",
	Short: "Inspect and modify a mounted SOFS11 volume",
}

var lsCmd = &cobra.Command{
	Use:   "ls DEVICE [PATH]",
	Short: "List a directory's entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fpath := "/"
		if len(args) > 1 {
			fpath = args[1]
		}
		return withVolume(args[0], func(v *sofs.Volume) error {
			_, entIno, err := v.ResolvePath(fpath, flagUID, flagGID)
			if err != nil {
				return err
			}
			dirIno, err := v.ReadInode(entIno, sofs.StatusInUse)
			if err != nil {
				return err
			}
			entries, err := v.DirEntries(dirIno)
			if err != nil {
				return err
			}
			rows := [][]string{{"inode", "type", "perms", "size", "name"}}
			for _, e := range entries {
				child, err := v.ReadInode(e.Inode, sofs.StatusInUse)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", e.Inode),
					child.Mode.Type.String(),
					fmt.Sprintf("%#o", child.Mode.Perms),
					fmt.Sprintf("%d", child.Size),
					e.Name,
				})
			}
			plainTable(rows)
			return nil
		})
	},
}

var statCmd = &cobra.Command{
	Use:   "stat DEVICE PATH",
	Short: "Print inode metadata for a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(args[0], func(v *sofs.Volume) error {
			_, entIno, err := v.ResolvePath(args[1], flagUID, flagGID)
			if err != nil {
				return err
			}
			ino, err := v.ReadInode(entIno, sofs.StatusInUse)
			if err != nil {
				return err
			}
			log.Printf("File: %s", args[1])
			log.Printf("Inode: %d", ino.Num)
			log.Printf("Type: %s", ino.Mode.Type)
			log.Printf("Access: %#o", ino.Mode.Perms)
			log.Printf("Size: %d", ino.Size)
			log.Printf("Links: %d", ino.Refcount)
			log.Printf("Uid: %d", ino.Owner)
			log.Printf("Gid: %d", ino.Group)
			log.Printf("Access time: %s", ino.Atime)
			log.Printf("Modify time: %s", ino.Mtime)
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat DEVICE PATH",
	Short: "Write a regular file's contents to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(args[0], func(v *sofs.Volume) error {
			_, entIno, err := v.ResolvePath(args[1], flagUID, flagGID)
			if err != nil {
				return err
			}
			ino, err := v.ReadInode(entIno, sofs.StatusInUse)
			if err != nil {
				return err
			}
			if ino.Mode.Type != sofs.TypeRegular {
				return fmt.Errorf("%q is not a regular file", args[1])
			}
			buf := make([]byte, 64*1024)
			var off int64
			for off < int64(ino.Size) {
				n, err := v.ReadAt(ino, buf, off)
				if err != nil {
					return err
				}
				if n == 0 {
					break
				}
				if _, err := os.Stdout.Write(buf[:n]); err != nil {
					return err
				}
				off += int64(n)
			}
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir DEVICE DIRPATH NAME",
	Short: "Create a directory entry under DIRPATH",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(args[0], func(v *sofs.Volume) error {
			_, dirIno, err := v.ResolvePath(args[1], flagUID, flagGID)
			if err != nil {
				return err
			}
			parent, err := v.ReadInode(dirIno, sofs.StatusInUse)
			if err != nil {
				return err
			}
			_, err = v.Mkdir(parent, args[2], sofs.PermOwnerR|sofs.PermOwnerW|sofs.PermOwnerX|
				sofs.PermGroupR|sofs.PermGroupX|sofs.PermOtherR|sofs.PermOtherX, flagUID, flagGID)
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm DEVICE DIRPATH NAME",
	Short: "Remove a non-directory entry from DIRPATH",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(args[0], func(v *sofs.Volume) error {
			_, dirIno, err := v.ResolvePath(args[1], flagUID, flagGID)
			if err != nil {
				return err
			}
			parent, err := v.ReadInode(dirIno, sofs.StatusInUse)
			if err != nil {
				return err
			}
			return v.Unlink(parent, args[2], flagUID, flagGID)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().Uint32Var(&flagUID, "uid", 0, "uid to use for access checks")
	rootCmd.PersistentFlags().Uint32Var(&flagGID, "gid", 0, "gid to use for access checks")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a sofsutil.yaml config file")

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

		uidFlagSet = cmd.Flags().Changed("uid")
		gidFlagSet = cmd.Flags().Changed("gid")
		initConfig(flagConfig)
		return nil
	}

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}
