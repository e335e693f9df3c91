// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/govalues/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/pagedb/pkg/catalog"
	"github.com/daviszhen/pagedb/pkg/engine"
	"github.com/daviszhen/pagedb/pkg/index"
	"github.com/daviszhen/pagedb/pkg/storage"
	"github.com/daviszhen/pagedb/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRootFlags()
	initTableCmds()
	initIndexCmds()
	initAdminCmds()
}

///root cmd

var info = "pagedb: page storage, buffer pools and indexes over a data directory"
var RootCmd = &cobra.Command{
	Use:          "pagedb",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "use pagedb --help or -h")
	},
}

func initRootFlags() {
	flags := RootCmd.PersistentFlags()
	flags.String("config", "", "toml config file")
	flags.String("data_dir", "", "data directory")
	flags.Int("pool_size", 0, "buffer pool frames per file")
	flags.String("replacer", "", "replacement policy. lru, clock")
	flags.String("log_level", "", "debug, info, warn, error")
	flags.Bool("writer", true, "run background writers and checkpointers")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("storage.dataDir", flags.Lookup("data_dir"))
	viper.BindPFlag("storage.poolSizePerFile", flags.Lookup("pool_size"))
	viper.BindPFlag("storage.replacer", flags.Lookup("replacer"))
	viper.BindPFlag("log.level", flags.Lookup("log_level"))
	viper.BindPFlag("writer.enabled", flags.Lookup("writer"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "pagedb.toml"

// loadConfig picks the config file. A missing file means defaults.
func loadConfig() {
	if viper.GetString("config") != "" {
		return
	}
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.Set("config", fpath)
			return
		}
	}
}

// runConfig is the file config with command line flags on top.
func runConfig(cmd *cobra.Command) (*util.Config, error) {
	cfg := util.DefaultConfig()
	if fpath := viper.GetString("config"); fpath != "" {
		var err error
		cfg, err = util.LoadConfig(fpath)
		if err != nil {
			util.Error("load config file failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("data_dir") {
		cfg.Storage.DataDir = viper.GetString("storage.dataDir")
	}
	if flags.Changed("pool_size") {
		cfg.Storage.PoolSizePerFile = viper.GetInt("storage.poolSizePerFile")
	}
	if flags.Changed("replacer") {
		cfg.Storage.Replacer = viper.GetString("storage.replacer")
	}
	if flags.Changed("log_level") {
		cfg.Log.Level = viper.GetString("log.level")
	}
	if flags.Changed("writer") {
		cfg.Writer.Enabled = viper.GetBool("writer.enabled")
	}
	return cfg, nil
}

func withEngine(cmd *cobra.Command, fn func(eng *engine.Engine) error) (err error) {
	cfg, err := runConfig(cmd)
	if err != nil {
		return err
	}
	err = util.InitLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer util.SyncLogger()
	eng, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(eng)
}

//table cmds

var createTableCmd = &cobra.Command{
	Use:   "create-table TABLE COLUMN:TYPE...",
	Short: "create a table. types: INT32, INT64, VARCHAR, NUMERIC",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			cols, err := parseColumns(eng.Catalog(), args[1:])
			if err != nil {
				return err
			}
			table, err := eng.CreateTable(args[0], cols)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s oid %d file %s\n",
				table.Name, table.Oid, table.FileNode)
			return nil
		})
	},
}

// parseColumns reads name:type pairs.
func parseColumns(cat *catalog.Manager, specs []string) ([]catalog.ColumnDefinition, error) {
	cols := make([]catalog.ColumnDefinition, 0, len(specs))
	for _, spec := range specs {
		name, typName, ok := strings.Cut(spec, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: column %q is not name:type", util.ErrInvalidArgument, spec)
		}
		typ, err := cat.GetTypeByName(strings.ToUpper(typName))
		if err != nil {
			return nil, err
		}
		cols = append(cols, catalog.ColumnDefinition{Name: name, TypeOid: typ.Oid})
	}
	return cols, nil
}

var insertCmd = &cobra.Command{
	Use:   "insert TABLE VALUE...",
	Short: "insert one row. NULL for a missing value",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			row, err := eng.ParseRow(args[0], args[1:])
			if err != nil {
				return err
			}
			tid, err := eng.Insert(args[0], row)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tid)
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan TABLE",
	Short: "print every row of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			return eng.Scan(args[0], func(tid storage.TID, row []any) error {
				printRow(cmd.OutOrStdout(), tid, row)
				return nil
			})
		})
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "list tables and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			out := cmd.OutOrStdout()
			cat := eng.Catalog()
			for _, table := range cat.ListTables() {
				cols := make([]string, 0)
				for _, col := range cat.GetTableColumns(table) {
					typ, err := cat.GetType(col.TypeOid)
					if err != nil {
						return err
					}
					cols = append(cols, col.Name+" "+typ.Name)
				}
				fmt.Fprintf(out, "table %s(%s) pages %d\n",
					table.Name, strings.Join(cols, ", "), table.PagesCount)
			}
			for _, desc := range eng.Indexes().ListIndexes() {
				fmt.Fprintf(out, "index %s\n", desc.String())
			}
			return nil
		})
	},
}

func initTableCmds() {
	RootCmd.AddCommand(createTableCmd, insertCmd, scanCmd, tablesCmd)
}

//index cmds

var createIndexCmd = &cobra.Command{
	Use:   "create-index NAME TABLE COLUMN",
	Short: "create and build an index",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		typName, _ := cmd.Flags().GetString("type")
		typ, err := index.ParseIndexType(typName)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(eng *engine.Engine) error {
			idx, err := eng.CreateIndex(index.Descriptor{
				Name:       args[0],
				TableName:  args[1],
				ColumnName: args[2],
				Type:       typ,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s %s\n", idx.Name(), idx.Type())
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search TABLE COLUMN KEY",
	Short: "print the rows whose column equals KEY",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			tids, err := eng.Search(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printTids(cmd.OutOrStdout(), eng, args[0], tids)
		})
	},
}

var rangeCmd = &cobra.Command{
	Use:   "range TABLE COLUMN",
	Short: "print the rows in a key range of a b+tree index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var from, to any
		if cmd.Flags().Changed("from") {
			from, _ = cmd.Flags().GetString("from")
		}
		if cmd.Flags().Changed("to") {
			to, _ = cmd.Flags().GetString("to")
		}
		inclusive, _ := cmd.Flags().GetBool("inclusive")
		return withEngine(cmd, func(eng *engine.Engine) error {
			tids, err := eng.RangeSearch(args[0], args[1], from, to, inclusive)
			if err != nil {
				return err
			}
			return printTids(cmd.OutOrStdout(), eng, args[0], tids)
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump INDEX",
	Short: "print the structure of an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			dump, err := eng.DumpIndex(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dump)
			return nil
		})
	},
}

func initIndexCmds() {
	RootCmd.AddCommand(createIndexCmd, searchCmd, rangeCmd, dumpCmd)
	createIndexCmd.Flags().String("type", "btree", "index type. hash, btree")
	rangeCmd.Flags().String("from", "", "lower bound. unbounded when absent")
	rangeCmd.Flags().String("to", "", "upper bound. unbounded when absent")
	rangeCmd.Flags().Bool("inclusive", true, "bounds are inclusive")
}

//admin cmds

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "flush every dirty page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			return eng.Checkpoint()
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print buffer pool statistics of the open files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(eng *engine.Engine) error {
			for _, fs := range eng.Stats() {
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s cached=%d dirty=%d hits=%d misses=%d evictions=%d flushes=%d\n",
					filepath.Base(fs.Path), fs.Cached, fs.Dirty,
					fs.Buffer.Hits, fs.Buffer.Misses, fs.Buffer.Evictions, fs.Buffer.Flushes)
			}
			return nil
		})
	},
}

func initAdminCmds() {
	RootCmd.AddCommand(checkpointCmd, statsCmd)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case decimal.Decimal:
		return val.String()
	}
	return fmt.Sprint(v)
}

func printRow(out io.Writer, tid storage.TID, row []any) {
	fields := make([]string, 0, len(row))
	for _, v := range row {
		fields = append(fields, formatValue(v))
	}
	fmt.Fprintf(out, "%s\t%s\n", tid, strings.Join(fields, "\t"))
}

func printTids(out io.Writer, eng *engine.Engine, table string, tids []storage.TID) error {
	for _, tid := range tids {
		row, err := eng.Read(table, tid)
		if err != nil {
			return err
		}
		printRow(out, tid, row)
	}
	return nil
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
