// cmd/contextdb/main.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"contextdb/internal/config"
	"contextdb/internal/engine"
	"contextdb/internal/logging"
	"contextdb/internal/merkle"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "contextdb",
	Short: "contextdb is a versioned, content-addressed key-value store",
	Long: `contextdb maintains state as an immutable, hash-linked tree. Mutations
accumulate in a staging area and are snapshotted with commit; every
mutation is also recorded to an action log so the full state can be
rebuilt deterministically after a restart.`,
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONTEXTDB_CONFIG")
	}
	if path == "" {
		path = "contextdb.json"
	}
	return config.Load(path)
}

func openEngine() (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	e, err := engine.Open(cfg, logger.Logger)
	if err != nil {
		logger.Sync()
		return nil, nil, fmt.Errorf("opening engine: %w", err)
	}

	cleanup := func() {
		e.Close()
		logger.Sync()
	}
	return e, cleanup, nil
}

func splitKey(path string) []string {
	var key []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			key = append(key, part)
		}
	}
	return key
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new contextdb store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			_ = e
			cfg, _ := loadConfig()
			fmt.Println("Initialized contextdb store in", cfg.Storage.DataDir)
			return nil
		},
	}

	var setCmd = &cobra.Command{
		Use:   "set [path] [value]",
		Short: "Stage a value under a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.Set(splitKey(args[0]), []byte(args[1])); err != nil {
				return fmt.Errorf("setting value: %w", err)
			}
			return nil
		},
	}

	var getCmd = &cobra.Command{
		Use:   "get [path]",
		Short: "Read the value under a path in the working tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			value, err := e.Get(splitKey(args[0]))
			if err != nil {
				return fmt.Errorf("getting value: %w", err)
			}
			fmt.Println(string(value))
			return nil
		},
	}

	var deleteCmd = &cobra.Command{
		Use:   "delete [path]",
		Short: "Stage removal of the entry under a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.Delete(splitKey(args[0])); err != nil {
				return fmt.Errorf("deleting value: %w", err)
			}
			return nil
		},
	}

	var copyCmd = &cobra.Command{
		Use:   "copy [src] [dst]",
		Short: "Rebind the entry at src under dst without rehashing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.Copy(splitKey(args[0]), splitKey(args[1])); err != nil {
				return fmt.Errorf("copying entry: %w", err)
			}
			return nil
		},
	}

	var commitAuthor, commitMessage string
	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Snapshot the working tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := e.Commit(commitAuthor, commitMessage)
			if err != nil {
				return fmt.Errorf("committing: %w", err)
			}
			color.Green("committed %s", id)
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&commitAuthor, "author", "a", "", "commit author")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show commit history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			return e.History(func(id merkle.Hash, commit *merkle.Commit) error {
				color.Yellow("commit %s", id)
				fmt.Printf("Author: %s\n", commit.Author)
				fmt.Printf("Date:   %s\n", time.Unix(commit.Time, 0).Format(time.RFC1123))
				fmt.Printf("\n    %s\n\n", commit.Message)
				return nil
			})
		},
	}

	var checkoutCmd = &cobra.Command{
		Use:   "checkout [commit]",
		Short: "Discard staged edits and rebind the working tree to a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := merkle.ParseHash(args[0])
			if err != nil {
				return err
			}
			if err := e.Checkout(id); err != nil {
				return fmt.Errorf("checking out: %w", err)
			}
			return nil
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show [prefix]",
		Short: "List key/value pairs under a prefix in the working tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			var prefix []string
			if len(args) == 1 {
				prefix = splitKey(args[0])
			}
			values, err := e.List(prefix)
			if err != nil {
				return fmt.Errorf("listing values: %w", err)
			}
			for _, kv := range values {
				fmt.Printf("%s = %s\n", strings.Join(kv.Key, "/"), string(kv.Value))
			}
			return nil
		},
	}

	var recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Replay the action log and report the rebuilt state",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Printf("replayed %d actions\n", e.ActionCount())
			if head, err := e.Head(); err == nil {
				color.Green("head %s", head)
			}
			return nil
		},
	}

	var watchInterval time.Duration
	var watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Mirror file writes in a directory into the tree, committing periodically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, cleanup, err := openEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			return watchDirectory(e, args[0], watchInterval)
		},
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "commit interval")

	rootCmd.AddCommand(initCmd, setCmd, getCmd, deleteCmd, copyCmd,
		commitCmd, logCmd, checkoutCmd, showCmd, recoverCmd, watchCmd)
}

// watchDirectory stages every file write under dir and commits on a timer
// while changes are pending.
func watchDirectory(e *engine.Engine, dir string, interval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			key := splitKey(filepath.Base(event.Name))
			switch {
			case event.Op&fsnotify.Write == fsnotify.Write,
				event.Op&fsnotify.Create == fsnotify.Create:
				content, err := os.ReadFile(event.Name)
				if err != nil {
					logger.Warn("reading changed file", zap.String("file", event.Name), zap.Error(err))
					continue
				}
				if err := e.Set(key, content); err != nil {
					return fmt.Errorf("staging %s: %w", event.Name, err)
				}
				dirty = true
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				if err := e.Delete(key); err != nil {
					return fmt.Errorf("staging removal of %s: %w", event.Name, err)
				}
				dirty = true
			}

		case <-ticker.C:
			if !dirty {
				continue
			}
			id, err := e.Commit("", fmt.Sprintf("watch: %s", dir))
			if err != nil {
				return fmt.Errorf("committing watched changes: %w", err)
			}
			color.Green("committed %s", id)
			dirty = false

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
