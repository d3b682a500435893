// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// shale is a CLI for inspecting and manipulating shale databases.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/shale"
	"github.com/cockroachdb/shale/bloom"
	"github.com/spf13/cobra"
)

var (
	dbDir        string
	createIfMiss bool
	syncWrites   bool
	bitsPerKey   int
	scanCount    int
)

func openDB(readOnly bool) (*shale.DB, error) {
	opts := &shale.Options{
		CreateIfMissing: createIfMiss,
		ReadOnly:        readOnly,
	}
	if bitsPerKey > 0 {
		opts.FilterPolicy = bloom.FilterPolicy(bitsPerKey)
	}
	return shale.Open(dbDir, opts)
}

func main() {
	root := &cobra.Command{
		Use:   "shale",
		Short: "shale is a tool for manipulating shale databases",
	}
	root.PersistentFlags().StringVarP(&dbDir, "db", "d", "", "database directory")
	root.PersistentFlags().BoolVar(&createIfMiss, "create", false, "create the database if missing")
	root.PersistentFlags().IntVar(&bitsPerKey, "bloom-bits", 10, "bloom filter bits per key (0 disables)")
	root.MarkPersistentFlagRequired("db")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(true)
			if err != nil {
				return err
			}
			defer d.Close()
			v, err := d.Get([]byte(args[0]), nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", v)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "set a key to a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(false)
			if err != nil {
				return err
			}
			defer d.Close()
			wopts := shale.NoSync
			if syncWrites {
				wopts = shale.Sync
			}
			return d.Set([]byte(args[0]), []byte(args[1]), wopts)
		},
	}
	setCmd.Flags().BoolVar(&syncWrites, "sync", false, "sync the WAL before returning")

	delCmd := &cobra.Command{
		Use:   "del <key>",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(false)
			if err != nil {
				return err
			}
			defer d.Close()
			wopts := shale.NoSync
			if syncWrites {
				wopts = shale.Sync
			}
			return d.Delete([]byte(args[0]), wopts)
		},
	}
	delCmd.Flags().BoolVar(&syncWrites, "sync", false, "sync the WAL before returning")

	scanCmd := &cobra.Command{
		Use:   "scan [start [end]]",
		Short: "print the keys in a range",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(true)
			if err != nil {
				return err
			}
			defer d.Close()
			iter := d.NewIter(nil)
			defer iter.Close()
			if len(args) > 0 {
				iter.SeekGE([]byte(args[0]))
			} else {
				iter.First()
			}
			var end []byte
			if len(args) > 1 {
				end = []byte(args[1])
			}
			n := 0
			for ; iter.Valid(); iter.Next() {
				if end != nil && string(iter.Key()) >= string(end) {
					break
				}
				fmt.Printf("%s: %s\n", iter.Key(), iter.Value())
				if n++; scanCount > 0 && n >= scanCount {
					break
				}
			}
			return iter.Error()
		},
	}
	scanCmd.Flags().IntVar(&scanCount, "count", 0, "maximum number of keys to print (0 for all)")

	compactCmd := &cobra.Command{
		Use:   "compact [start [end]]",
		Short: "compact a key range through every level",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(false)
			if err != nil {
				return err
			}
			defer d.Close()
			var begin, end []byte
			if len(args) > 0 {
				begin = []byte(args[0])
			}
			if len(args) > 1 {
				end = []byte(args[1])
			}
			return d.Compact(begin, end)
		},
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "print per-level file counts and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB(true)
			if err != nil {
				return err
			}
			defer d.Close()
			m := d.Metrics()
			fmt.Printf("last sequence: %s\n", m.LastSequence)
			for level, lm := range m.Levels {
				if lm.NumFiles == 0 {
					continue
				}
				fmt.Printf("level %d: %d files, %d bytes\n", level, lm.NumFiles, lm.Size)
			}
			return nil
		},
	}

	root.AddCommand(getCmd, setCmd, delCmd, scanCmd, compactCmd, metricsCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
