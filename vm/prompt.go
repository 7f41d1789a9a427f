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
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/launix-de/deopt/jit"
)

const newprompt = "\033[32m>\033[0m "
const resultprompt = "\033[31m=\033[0m "

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

const helpText = `commands:
  class NAME                       define a class
  def CLASS METHOD                 (re)define a method
  undef CLASS METHOD               remove a method
  redefine CLASS OP                redefine a basic operator (+ - * / % == < <= > >= << [])
  global NAME VALUE                assign a global binding
  compile LABEL [ASSUMPTION...]    compile a unit (op:Class:OP method:Class:name single globals)
  run LABEL                        enter the newest version of LABEL
  free LABEL                       free the newest version of LABEL
  spawn LABEL [N]                  start a context that runs LABEL N times
  wait                             wait for all contexts
  hooks                            enable event hooks (invalidates everything)
  flush-methods                    clear the global method cache
  units LABEL                      list live versions of LABEL
  deps                             list assumptions with dependents
  stats                            print invalidation counters
  set [NAME [VALUE]]               show or change settings
  quit
`

// Repl reads commands from the terminal until EOF or quit.
func (h *Host) Repl(out io.Writer) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".deopt-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            out,
	})
	if err != nil {
		return err
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := h.Exec(line, out); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintln(out, "error:", err)
		}
	}
}

// Exec runs one command line.
func (h *Host) Exec(line string, out io.Writer) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	need := func(n int) error {
		if len(args) < n+1 {
			return fmt.Errorf("%s: expected %d arguments", args[0], n)
		}
		return nil
	}
	switch args[0] {
	case "help":
		fmt.Fprint(out, helpText)
	case "quit", "exit":
		return ErrQuit
	case "class":
		if err := need(1); err != nil {
			return err
		}
		c := h.DefineClass(args[1])
		fmt.Fprintf(out, "%sclass %s (%s)\n", resultprompt, c.Name, c.ID)
	case "def":
		if err := need(2); err != nil {
			return err
		}
		entry, err := h.DefineMethod(args[1], jit.MethodID(args[2]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s%s#%s entry %s\n", resultprompt, args[1], args[2], entry.Handle)
	case "undef":
		if err := need(2); err != nil {
			return err
		}
		return h.RemoveMethod(args[1], jit.MethodID(args[2]))
	case "redefine":
		if err := need(2); err != nil {
			return err
		}
		op, err := ParseOperator(args[2])
		if err != nil {
			return err
		}
		return h.RedefineOperator(args[1], op)
	case "global":
		if err := need(2); err != nil {
			return err
		}
		h.SetGlobal(args[1], strings.Join(args[2:], " "))
	case "compile":
		if err := need(1); err != nil {
			return err
		}
		keys := make([]jit.Key, 0, len(args)-2)
		for _, a := range args[2:] {
			k, err := h.ParseAssumption(a)
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		ref, err := h.Compile(args[1], keys...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s%s %s\n", resultprompt, args[1], ref)
	case "run":
		if err := need(1); err != nil {
			return err
		}
		var ran jit.UnitRef
		if h.Execute(args[1], func(u jit.UnitRef) { ran = u }) {
			fmt.Fprintf(out, "%sjit %s\n", resultprompt, ran)
		} else {
			fmt.Fprintf(out, "%sinterpreter\n", resultprompt)
		}
	case "free":
		if err := need(1); err != nil {
			return err
		}
		return h.Free(args[1])
	case "spawn":
		if err := need(1); err != nil {
			return err
		}
		n := 1
		if len(args) > 2 {
			var err error
			if n, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("spawn: %w", err)
			}
		}
		label := args[1]
		h.SpawnContext(func(ctx context.Context) error {
			hits := 0
			for i := 0; i < n; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if h.Execute(label, nil) {
					hits++
				}
			}
			h.printMu.Lock()
			defer h.printMu.Unlock()
			fmt.Fprintf(out, "context: %s ran %d/%d times in generated code\n", label, hits, n)
			return nil
		})
	case "wait":
		return h.Wait()
	case "hooks":
		h.EnableHooks()
	case "flush-methods":
		h.ClearMethodCache()
	case "units":
		if err := need(1); err != nil {
			return err
		}
		for _, ref := range h.Cache.Versions(args[1]) {
			var keys []jit.Key
			h.Lock.Enter(func() { keys = h.Inv.Assumptions(ref) })
			fmt.Fprintf(out, "%s %s\n", ref, h.describeKeys(keys))
		}
	case "deps":
		var keys []jit.Key
		deps := map[jit.Key][]jit.UnitRef{}
		h.Lock.Enter(func() {
			keys = h.Inv.Keys()
			for _, k := range keys {
				deps[k] = h.Inv.Dependents(k)
			}
		})
		for _, k := range keys {
			fmt.Fprintf(out, "%-40s %v\n", h.Describe(k), deps[k])
		}
	case "stats":
		h.Inv.Stats().Print(out)
		exits, invalidations, live := h.Cache.Stats()
		fmt.Fprintf(out, "%-28s %d\n%-28s %d\n%-28s %d\n", "exits_written:", exits, "units_invalidated:", invalidations, "units_allocated:", live)
	case "set":
		switch len(args) {
		case 1:
			for _, kv := range h.Settings.List() {
				fmt.Fprintf(out, "%-20s %s\n", kv[0], kv[1])
			}
		case 2:
			v, err := h.Settings.Get(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s%s\n", resultprompt, v)
		default:
			var err error
			h.Lock.Enter(func() { err = h.Settings.Set(args[1], args[2]) })
			if err != nil {
				return err
			}
			return h.Settings.Apply()
		}
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return nil
}

// Describe renders key with class and operator names.
func (h *Host) Describe(key jit.Key) (s string) {
	h.Lock.Enter(func() {
		switch key.Kind {
		case jit.KindOperator:
			for _, c := range h.classes {
				if c.Flag == key.Flag {
					s = fmt.Sprintf("operator %s#%s", c.Name, OperatorName(key.Op))
					return
				}
			}
		case jit.KindMethodLookup:
			if c := h.classByID[key.Class]; c != nil {
				s = fmt.Sprintf("method-lookup %s#%s", c.Name, key.Method)
				return
			}
		}
		s = key.String()
	})
	return
}

func (h *Host) describeKeys(keys []jit.Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = h.Describe(k)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
