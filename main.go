/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
/*
	deopt: assumption tracking and invalidation for a method JIT

	boots a small host VM and lets you compile units against runtime
	assumptions, then break them from the prompt.
*/
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/launix-de/deopt/settings"
	"github.com/launix-de/deopt/vm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		opts       []string
		commands   []string
		verbose    bool
		noRepl     bool
	)
	cmd := &cobra.Command{
		Use:          "deopt",
		Short:        "JIT assumption registry playground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			if configFile != "" {
				if err := settings.Settings.LoadFile(configFile); err != nil {
					return err
				}
			}
			for _, o := range opts {
				if err := settings.Settings.ParseOption(o); err != nil {
					return err
				}
			}

			h := vm.New(vm.Config{Settings: &settings.Settings, Logger: log})
			out := cmd.OutOrStdout()
			if err := settings.InitSettings(func() { h.Exec("stats", out) }); err != nil {
				return err
			}
			defer settings.Shutdown()

			if configFile != "" {
				watcher, err := watchConfig(configFile, h, log)
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			for _, command := range commands {
				if err := h.Exec(command, out); err != nil && err != vm.ErrQuit {
					return fmt.Errorf("%s: %w", command, err)
				}
			}
			if !noRepl {
				fmt.Fprint(out, "\n    Type help to show help\n\n")
				if err := h.Repl(out); err != nil {
					return err
				}
			}
			return h.Wait()
		},
	}
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML settings file, reloaded on change")
	f.StringArrayVarP(&opts, "opt", "o", nil, "setting as name=value, name or no-name (repeatable)")
	f.StringArrayVarP(&commands, "command", "c", nil, "prompt command to run before the REPL (repeatable)")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&noRepl, "no-repl", false, "exit after the -c commands")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// watchConfig reloads the settings file whenever it changes. Settings the
// host froze at start keep their running value.
func watchConfig(path string, h *vm.Host, log *zap.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	reload := func() {
		var next settings.SettingsT
		h.Lock.Enter(func() { next = settings.Settings })
		if err := next.LoadFile(path); err != nil {
			log.Warn("settings reload failed", zap.Error(err))
			return
		}
		h.Lock.Enter(func() { settings.Settings = next })
		if err := settings.Settings.Apply(); err != nil {
			log.Warn("settings apply failed", zap.Error(err))
			return
		}
		log.Info("settings reloaded", zap.String("file", path))
	}
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				// flush the burst editors produce
				for {
					time.Sleep(10 * time.Millisecond) // delay a bit, so we don't read empty files
					select {
					case _, ok := <-watcher.Events:
						if !ok {
							return
						}
						continue
					default:
					}
					break
				}
				reload()
				watcher.Add(path) // text editors rename, so we have to rewatch
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("settings watcher", zap.Error(err))
			}
		}
	}()
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}
