package script

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errExit is the sentinel the "exit" built-in uses to unwind a handler
// immediately; it is never surfaced to callers as a failure.
var errExit = errors.New("script: exit")

// Status is an ExecContext's scheduling state.
type Status int

const (
	StatusSuspended Status = iota
	StatusRunning
	StatusTerminated
)

// Auto-suspension budgets (spec section 4.4): a handler instruction
// counter that hits the soft budget while inside a loop, or the hard
// budget unconditionally, is suspended and re-entered after a fixed
// delay. sync{} blocks suppress both checks but keep counting.
const (
	softInstrBudget  = 70
	hardInstrBudget  = 210
	autoSuspendDelay = 1000 * time.Microsecond
)

// Globals holds the storage shared by every ExecContext compiled from the
// same Program: global int/string variables and declared int arrays.
// Polyphonic int variables are NOT here — each voice's ExecContext owns
// its own copy.
type Globals struct {
	mu     sync.Mutex
	ints   []int32
	strs   []string
	arrays map[string][]int32
}

// NewGlobals allocates storage sized to prog's declared variable counts.
func NewGlobals(prog *Program) *Globals {
	return &Globals{
		ints:   make([]int32, prog.GlobalIntCount),
		strs:   make([]string, prog.GlobalStringCount),
		arrays: make(map[string][]int32),
	}
}

// Host resolves the read/write variables and functions a script can touch
// that are not part of its own declared state: engine parameters,
// event fields, and randomness. A nil Host is valid for scripts that
// only use declared variables and the pure built-in set.
type Host interface {
	ResolveDynamicInt(name string) (int32, bool)
	ResolveDynamicString(name string) (string, bool)
	SetDynamicInt(name string, v int32)
	SetDynamicString(name string, v string)
	RandomInt(lo, hi int32) int32
}

type frameKind int

const (
	frameList frameKind = iota
	frameLoop
	frameSync
)

type frame struct {
	stmts    []Statement
	idx      int
	kind     frameKind
	loopCond Expression
}

// ExecContext is one running instance of a compiled Program: either the
// single instance backing a non-polyphonic handler (init, controller,
// ...) or one per active note for a polyphonic handler. Execution is
// driven by an explicit frame stack rather than a host goroutine/coroutine,
// so a context can be suspended and resumed with no OS thread attached to
// it between runs (spec section 4.4).
type ExecContext struct {
	prog    *Program
	globals *Globals
	host    Host

	ForkID uuid.UUID
	NoteID uint64 // matches a release handler's inherited instance to its note-on instance

	poly []int32

	stack    []frame
	status   Status
	instrCnt int
	now      time.Time
	resumeAt time.Time
	loopDep  int
	syncDep  int
	aborted  bool
}

// NewExecContext creates a context ready to run handlers of prog against
// the given shared Globals. host may be nil.
func NewExecContext(prog *Program, globals *Globals, host Host) *ExecContext {
	return &ExecContext{
		prog:    prog,
		globals: globals,
		host:    host,
		ForkID:  uuid.New(),
		poly:    make([]int32, prog.PolyIntCount),
		status:  StatusTerminated,
	}
}

// Status reports the context's current scheduling state.
func (c *ExecContext) Status() Status { return c.status }

// Abort requests termination at the next statement boundary; it is safe
// to call from a control thread while the context sits suspended.
func (c *ExecContext) Abort() { c.aborted = true }

// StartHandler resets the context to run the named handler from its first
// statement. It returns false if the program has no such handler.
func (c *ExecContext) StartHandler(name string) bool {
	h, ok := c.prog.Handlers[name]
	if !ok {
		return false
	}
	c.stack = []frame{{stmts: h.Body, kind: frameList}}
	c.status = StatusSuspended
	c.instrCnt = 0
	c.resumeAt = time.Time{}
	c.aborted = false
	return true
}

// ForkTo spawns an independent ExecContext that shares this context's
// Globals and Host but starts with its own copy of polyphonic memory,
// running handlerName from its first statement (spec section 4.4's
// fork_to). The fork's NoteID is left for the caller to set so a later
// release handler can be matched to the note that created it.
func (c *ExecContext) ForkTo(handlerName string) (*ExecContext, error) {
	fork := NewExecContext(c.prog, c.globals, c.host)
	copy(fork.poly, c.poly)
	if !fork.StartHandler(handlerName) {
		return nil, fmt.Errorf("script: fork_to: no handler %q", handlerName)
	}
	return fork, nil
}

// Run executes statements until the context suspends (explicitly via
// wait(), automatically on a budget, or because it terminates or hits a
// runtime error) and returns the resulting status. Calling Run before
// resumeAt has elapsed is a no-op that returns StatusSuspended.
func (c *ExecContext) Run(now time.Time) Status {
	if c.status == StatusTerminated {
		return c.status
	}
	if now.Before(c.resumeAt) {
		return StatusSuspended
	}
	c.now = now
	c.status = StatusRunning
	c.instrCnt = 0

	for len(c.stack) > 0 {
		if c.aborted {
			c.stack = nil
			c.status = StatusTerminated
			return c.status
		}

		top := &c.stack[len(c.stack)-1]
		if top.idx >= len(top.stmts) {
			if top.kind == frameLoop {
				v, err := c.evalExpr(top.loopCond)
				if err == nil && v.Int != 0 {
					top.idx = 0
					continue
				}
			}
			c.popFrame()
			continue
		}

		stmt := top.stmts[top.idx]
		top.idx++
		c.instrCnt++

		explicitSuspend, err := c.execStmt(stmt)
		if err != nil {
			if errors.Is(err, errExit) {
				c.stack = nil
				c.status = StatusTerminated
				return c.status
			}
			// A runtime error (bad wait() argument, out-of-bounds array
			// index, ...) aborts the handler rather than the host process.
			c.stack = nil
			c.status = StatusTerminated
			return c.status
		}
		if explicitSuspend {
			c.status = StatusSuspended
			return c.status
		}

		if c.syncDep == 0 {
			if c.loopDep > 0 && c.instrCnt >= softInstrBudget {
				c.autoSuspend()
				return c.status
			}
			if c.instrCnt >= hardInstrBudget {
				c.autoSuspend()
				return c.status
			}
		}
	}

	c.status = StatusTerminated
	return c.status
}

func (c *ExecContext) autoSuspend() {
	c.resumeAt = c.now.Add(autoSuspendDelay)
	c.instrCnt = 0
	c.status = StatusSuspended
}

func (c *ExecContext) pushFrame(f frame) {
	c.stack = append(c.stack, f)
	switch f.kind {
	case frameLoop:
		c.loopDep++
	case frameSync:
		c.syncDep++
	}
}

func (c *ExecContext) popFrame() {
	f := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	switch f.kind {
	case frameLoop:
		c.loopDep--
	case frameSync:
		c.syncDep--
	}
}

// execStmt runs one statement. The returned bool is true only for an
// explicit suspension (wait()); auto-suspension is handled by the caller.
func (c *ExecContext) execStmt(stmt Statement) (bool, error) {
	switch s := stmt.(type) {
	case NoOpStmt:
		return false, nil

	case LeafStmt:
		if call, ok := s.Expr.(CallExpr); ok {
			switch {
			case call.Name == "wait":
				return c.execWait(call)
			case len(call.Args) == 0 && c.prog.Functions[call.Name] != nil:
				fn := c.prog.Functions[call.Name]
				c.pushFrame(frame{stmts: fn.Body, kind: frameList})
				return false, nil
			}
		}
		_, err := c.evalExpr(s.Expr)
		return false, err

	case AssignStmt:
		v, err := c.evalExpr(s.Rhs)
		if err != nil {
			return false, err
		}
		return false, c.assign(s.Target, v)

	case ArrayDeclStmt:
		c.globals.mu.Lock()
		_, exists := c.globals.arrays[s.Name]
		c.globals.mu.Unlock()
		if exists {
			return false, nil
		}
		size := s.Size
		if len(s.Elems) > size {
			size = len(s.Elems)
		}
		arr := make([]int32, size)
		for i, e := range s.Elems {
			v, err := c.evalExpr(e)
			if err != nil {
				return false, err
			}
			arr[i] = v.Int
		}
		c.globals.mu.Lock()
		c.globals.arrays[s.Name] = arr
		c.globals.mu.Unlock()
		return false, nil

	case BranchStmt:
		v, err := c.evalExpr(s.Cond)
		if err != nil {
			return false, err
		}
		if v.Int != 0 {
			c.pushFrame(frame{stmts: s.Then, kind: frameList})
		} else if s.Else != nil {
			c.pushFrame(frame{stmts: s.Else, kind: frameList})
		}
		return false, nil

	case SelectStmt:
		subj, err := c.evalExpr(s.Subject)
		if err != nil {
			return false, err
		}
		for _, cs := range s.Cases {
			lo, err := c.evalExpr(cs.Low)
			if err != nil {
				return false, err
			}
			hi := lo
			if cs.High != nil {
				hi, err = c.evalExpr(cs.High)
				if err != nil {
					return false, err
				}
			}
			if subj.Int >= lo.Int && subj.Int <= hi.Int {
				c.pushFrame(frame{stmts: cs.Body, kind: frameList})
				break
			}
		}
		return false, nil

	case LoopStmt:
		v, err := c.evalExpr(s.Cond)
		if err != nil {
			return false, err
		}
		if v.Int != 0 {
			c.pushFrame(frame{stmts: s.Body, kind: frameLoop, loopCond: s.Cond})
		}
		return false, nil

	case SyncStmt:
		c.pushFrame(frame{stmts: s.Body, kind: frameSync})
		return false, nil

	case ListStmt:
		c.pushFrame(frame{stmts: s.Stmts, kind: frameList})
		return false, nil
	}
	return false, fmt.Errorf("script: unhandled statement type %T", stmt)
}

func (c *ExecContext) execWait(call CallExpr) (bool, error) {
	if len(call.Args) != 1 {
		return false, fmt.Errorf("script: wait: expected 1 argument")
	}
	v, err := c.evalExpr(call.Args[0])
	if err != nil {
		return false, err
	}
	if v.Int <= 0 {
		return false, fmt.Errorf("script: wait: duration must be positive, got %d", v.Int)
	}
	c.resumeAt = c.now.Add(time.Duration(v.Int) * time.Microsecond)
	return true, nil
}

func (c *ExecContext) assign(target Expression, v Value) error {
	switch t := target.(type) {
	case VarExpr:
		return c.setVar(t, v)
	case ArrayElemExpr:
		name, ok := t.Array.(VarExpr)
		if !ok {
			return fmt.Errorf("script: invalid array assignment target")
		}
		idx, err := c.evalExpr(t.Index)
		if err != nil {
			return err
		}
		c.globals.mu.Lock()
		defer c.globals.mu.Unlock()
		arr := c.globals.arrays[name.Name]
		if int(idx.Int) < 0 || int(idx.Int) >= len(arr) {
			return fmt.Errorf("script: array %%%s index %d out of range", name.Name, idx.Int)
		}
		arr[idx.Int] = v.Int
		return nil
	}
	return fmt.Errorf("script: invalid assignment target %T", target)
}

func (c *ExecContext) setVar(t VarExpr, v Value) error {
	switch t.Kind {
	case VarGlobalInt:
		c.globals.mu.Lock()
		c.globals.ints[t.Index] = v.Int
		c.globals.mu.Unlock()
	case VarGlobalString:
		c.globals.mu.Lock()
		c.globals.strs[t.Index] = v.Str
		c.globals.mu.Unlock()
	case VarPolyInt:
		c.poly[t.Index] = v.Int
	case VarArray:
		c.globals.mu.Lock()
		c.globals.arrays[t.Name] = append([]int32(nil), v.Arr...)
		c.globals.mu.Unlock()
	case VarDynamic:
		if c.host == nil {
			return fmt.Errorf("script: no host bound for dynamic variable %q", t.Name)
		}
		if v.Kind == KindString {
			c.host.SetDynamicString(t.Name, v.Str)
		} else {
			c.host.SetDynamicInt(t.Name, v.Int)
		}
	default:
		return fmt.Errorf("script: cannot assign to %q", t.Name)
	}
	return nil
}

func (c *ExecContext) evalExpr(e Expression) (Value, error) {
	switch x := e.(type) {
	case IntLitExpr:
		return intVal(x.Value), nil
	case StringLitExpr:
		return strVal(x.Value), nil

	case VarExpr:
		switch x.Kind {
		case VarGlobalInt:
			c.globals.mu.Lock()
			v := c.globals.ints[x.Index]
			c.globals.mu.Unlock()
			return intVal(v), nil
		case VarGlobalString:
			c.globals.mu.Lock()
			v := c.globals.strs[x.Index]
			c.globals.mu.Unlock()
			return strVal(v), nil
		case VarPolyInt:
			return intVal(c.poly[x.Index]), nil
		case VarArray:
			c.globals.mu.Lock()
			arr := append([]int32(nil), c.globals.arrays[x.Name]...)
			c.globals.mu.Unlock()
			return arrVal(arr), nil
		case VarConst:
			return intVal(c.prog.ConstInts[x.Name]), nil
		case VarDynamic:
			if c.host == nil {
				return Value{}, fmt.Errorf("script: no host bound for dynamic variable %q", x.Name)
			}
			if x.Sigil == '@' {
				if s, ok := c.host.ResolveDynamicString(x.Name); ok {
					return strVal(s), nil
				}
				return strVal(""), nil
			}
			if i, ok := c.host.ResolveDynamicInt(x.Name); ok {
				return intVal(i), nil
			}
			return intVal(0), nil
		}

	case ArrayElemExpr:
		name, ok := x.Array.(VarExpr)
		if !ok {
			return Value{}, fmt.Errorf("script: invalid array expression")
		}
		idx, err := c.evalExpr(x.Index)
		if err != nil {
			return Value{}, err
		}
		c.globals.mu.Lock()
		arr := c.globals.arrays[name.Name]
		defer c.globals.mu.Unlock()
		if int(idx.Int) < 0 || int(idx.Int) >= len(arr) {
			return Value{}, fmt.Errorf("script: array %%%s index %d out of range", name.Name, idx.Int)
		}
		return intVal(arr[idx.Int]), nil

	case BinaryExpr:
		return c.evalBinary(x)

	case UnaryExpr:
		v, err := c.evalExpr(x.Operand)
		if err != nil {
			return Value{}, err
		}
		switch x.Op {
		case OpSub:
			return intVal(-v.Int), nil
		case OpNot:
			return boolVal(v.Int == 0), nil
		case OpBitNot:
			return intVal(^v.Int), nil
		}

	case ConcatExpr:
		var sb []byte
		for _, part := range x.Parts {
			v, err := c.evalExpr(part)
			if err != nil {
				return Value{}, err
			}
			if v.Kind == KindString {
				sb = append(sb, v.Str...)
			} else {
				sb = append(sb, strconv.FormatInt(int64(v.Int), 10)...)
			}
		}
		return strVal(string(sb)), nil

	case CallExpr:
		return c.evalCall(x)
	}
	return Value{}, fmt.Errorf("script: unhandled expression type %T", e)
}

func (c *ExecContext) evalBinary(x BinaryExpr) (Value, error) {
	l, err := c.evalExpr(x.Left)
	if err != nil {
		return Value{}, err
	}
	r, err := c.evalExpr(x.Right)
	if err != nil {
		return Value{}, err
	}
	switch x.Op {
	case OpAdd:
		return intVal(l.Int + r.Int), nil
	case OpSub:
		return intVal(l.Int - r.Int), nil
	case OpMul:
		return intVal(l.Int * r.Int), nil
	case OpDiv:
		if r.Int == 0 {
			return intVal(0), nil
		}
		return intVal(l.Int / r.Int), nil
	case OpMod:
		if r.Int == 0 {
			return intVal(0), nil
		}
		return intVal(l.Int % r.Int), nil
	case OpBitAnd:
		return intVal(l.Int & r.Int), nil
	case OpBitOr:
		return intVal(l.Int | r.Int), nil
	case OpShL:
		return intVal(l.Int << uint32(r.Int&31)), nil
	case OpShR:
		return intVal(l.Int >> uint32(r.Int&31)), nil
	case OpAnd:
		return boolVal(l.Int != 0 && r.Int != 0), nil
	case OpOr:
		return boolVal(l.Int != 0 || r.Int != 0), nil
	case OpLt:
		return boolVal(l.Int < r.Int), nil
	case OpGt:
		return boolVal(l.Int > r.Int), nil
	case OpLe:
		return boolVal(l.Int <= r.Int), nil
	case OpGe:
		return boolVal(l.Int >= r.Int), nil
	case OpEq:
		if l.Kind == KindString || r.Kind == KindString {
			return boolVal(l.Str == r.Str), nil
		}
		return boolVal(l.Int == r.Int), nil
	case OpNe:
		if l.Kind == KindString || r.Kind == KindString {
			return boolVal(l.Str != r.Str), nil
		}
		return boolVal(l.Int != r.Int), nil
	}
	return Value{}, fmt.Errorf("script: unhandled binary operator %d", x.Op)
}

func (c *ExecContext) evalCall(call CallExpr) (Value, error) {
	args := make([]Value, len(call.Args))
	for i, a := range call.Args {
		v, err := c.evalExpr(a)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}

	if _, ok := builtins[call.Name]; ok {
		setArg := func(i int, v Value) {
			_ = c.assign(call.Args[i], v)
		}
		return callBuiltin(call.Name, args, setArg, c.randRange)
	}

	if fn, ok := c.prog.Functions[call.Name]; ok {
		return Value{Kind: KindEmpty}, c.execSimple(fn.Body)
	}

	return Value{}, fmt.Errorf("script: unknown function %q", call.Name)
}

// execSimple runs statements to completion without suspension support,
// for user functions invoked from expression position (they must not
// block: wait() inside one is a runtime error).
func (c *ExecContext) execSimple(stmts []Statement) error {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case LeafStmt:
			if call, ok := s.Expr.(CallExpr); ok && call.Name == "wait" {
				return fmt.Errorf("script: wait() is not allowed inside a called function")
			}
			if _, err := c.evalExpr(s.Expr); err != nil {
				return err
			}
		case AssignStmt:
			v, err := c.evalExpr(s.Rhs)
			if err != nil {
				return err
			}
			if err := c.assign(s.Target, v); err != nil {
				return err
			}
		case BranchStmt:
			v, err := c.evalExpr(s.Cond)
			if err != nil {
				return err
			}
			if v.Int != 0 {
				if err := c.execSimple(s.Then); err != nil {
					return err
				}
			} else if err := c.execSimple(s.Else); err != nil {
				return err
			}
		case LoopStmt:
			for {
				v, err := c.evalExpr(s.Cond)
				if err != nil {
					return err
				}
				if v.Int == 0 {
					break
				}
				if err := c.execSimple(s.Body); err != nil {
					return err
				}
			}
		case SyncStmt:
			if err := c.execSimple(s.Body); err != nil {
				return err
			}
		case SelectStmt:
			subj, err := c.evalExpr(s.Subject)
			if err != nil {
				return err
			}
			for _, cs := range s.Cases {
				lo, err := c.evalExpr(cs.Low)
				if err != nil {
					return err
				}
				hi := lo
				if cs.High != nil {
					hi, err = c.evalExpr(cs.High)
					if err != nil {
						return err
					}
				}
				if subj.Int >= lo.Int && subj.Int <= hi.Int {
					return c.execSimple(cs.Body)
				}
			}
		case ArrayDeclStmt:
			c.globals.mu.Lock()
			if _, exists := c.globals.arrays[s.Name]; !exists {
				c.globals.arrays[s.Name] = make([]int32, s.Size)
			}
			c.globals.mu.Unlock()
		}
	}
	return nil
}

func (c *ExecContext) randRange(lo, hi int32) int32 {
	if c.host != nil {
		return c.host.RandomInt(lo, hi)
	}
	return lo
}
