package script

import "fmt"

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindString
	KindIntArray
	KindEmpty
)

// Value is the VM's single runtime value representation: NKSP is
// dynamically but narrowly typed, so one tagged struct covers every case
// built-ins and expressions produce.
type Value struct {
	Kind ValueKind
	Int  int32
	Str  string
	Arr  []int32
}

func intVal(v int32) Value    { return Value{Kind: KindInt, Int: v} }
func strVal(s string) Value   { return Value{Kind: KindString, Str: s} }
func arrVal(a []int32) Value  { return Value{Kind: KindIntArray, Arr: a} }
func boolVal(b bool) Value {
	if b {
		return intVal(1)
	}
	return intVal(0)
}

// argKind enumerates the argument type contracts a built-in can require.
type argKind int

const (
	argInt argKind = iota
	argString
	argIntArray
	argAny
)

// builtinSig is the closed-set contract for one built-in function (spec
// section 4.4): argument count bounds, per-position accepted type,
// whether a positional argument is mutated in place, and the return type.
type builtinSig struct {
	minArgs, maxArgs int // maxArgs == -1 means unbounded
	argTypes         []argKind
	mutates          map[int]bool // arg index -> mutated in place
	returns          argKind      // argAny for "no return value"
}

var builtins = map[string]builtinSig{
	"message":      {minArgs: 1, maxArgs: 1, argTypes: []argKind{argAny}, returns: argAny},
	"exit":         {minArgs: 0, maxArgs: 0, returns: argAny},
	"wait":         {minArgs: 1, maxArgs: 1, argTypes: []argKind{argInt}, returns: argAny},
	"abs":          {minArgs: 1, maxArgs: 1, argTypes: []argKind{argInt}, returns: argInt},
	"random":       {minArgs: 2, maxArgs: 2, argTypes: []argKind{argInt, argInt}, returns: argInt},
	"num_elements": {minArgs: 1, maxArgs: 1, argTypes: []argKind{argIntArray}, returns: argInt},
	"inc":          {minArgs: 1, maxArgs: 1, argTypes: []argKind{argInt}, mutates: map[int]bool{0: true}, returns: argInt},
	"dec":          {minArgs: 1, maxArgs: 1, argTypes: []argKind{argInt}, mutates: map[int]bool{0: true}, returns: argInt},
	"in_range":     {minArgs: 3, maxArgs: 3, argTypes: []argKind{argInt, argInt, argInt}, returns: argInt},
	"sh_left":      {minArgs: 2, maxArgs: 2, argTypes: []argKind{argInt, argInt}, returns: argInt},
	"sh_right":     {minArgs: 2, maxArgs: 2, argTypes: []argKind{argInt, argInt}, returns: argInt},
	"min":          {minArgs: 2, maxArgs: 2, argTypes: []argKind{argInt, argInt}, returns: argInt},
	"max":          {minArgs: 2, maxArgs: 2, argTypes: []argKind{argInt, argInt}, returns: argInt},
	"array_equal":  {minArgs: 2, maxArgs: 2, argTypes: []argKind{argIntArray, argIntArray}, returns: argInt},
	"search":       {minArgs: 2, maxArgs: 2, argTypes: []argKind{argIntArray, argInt}, returns: argInt},
	"sort":         {minArgs: 1, maxArgs: 2, argTypes: []argKind{argIntArray, argInt}, mutates: map[int]bool{0: true}, returns: argAny},
}

// checkBuiltinSignature validates a call's arity and, where staticArgKind
// can decide it (literals and declared variables), argument type, against
// the closed built-in set. Unknown names are not built-ins and are left
// for the VM to resolve as user functions, so they produce no issue here.
func checkBuiltinSignature(name string, args []Expression) []string {
	sig, ok := builtins[name]
	if !ok {
		return nil
	}
	var issues []string
	n := len(args)
	if n < sig.minArgs || (sig.maxArgs >= 0 && n > sig.maxArgs) {
		issues = append(issues, fmt.Sprintf("%s: expected %s, got %d", name, arityDesc(sig), n))
	}
	for i, a := range args {
		if i >= len(sig.argTypes) {
			break
		}
		want := sig.argTypes[i]
		if want == argAny {
			continue
		}
		if got, known := staticArgKind(a); known && got != want {
			issues = append(issues, fmt.Sprintf("%s: argument %d has wrong type", name, i+1))
		}
		if sig.mutates[i] {
			if _, isVar := a.(VarExpr); !isVar {
				if _, isElem := a.(ArrayElemExpr); !isVar && !isElem {
					issues = append(issues, fmt.Sprintf("%s: argument %d must be a variable", name, i+1))
				}
			}
		}
	}
	return issues
}

func arityDesc(sig builtinSig) string {
	if sig.maxArgs < 0 {
		return fmt.Sprintf("at least %d argument(s)", sig.minArgs)
	}
	if sig.minArgs == sig.maxArgs {
		return fmt.Sprintf("%d argument(s)", sig.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", sig.minArgs, sig.maxArgs)
}

func staticArgKind(e Expression) (argKind, bool) {
	switch v := e.(type) {
	case IntLitExpr:
		return argInt, true
	case StringLitExpr:
		return argString, true
	case VarExpr:
		switch v.Kind {
		case VarGlobalInt, VarPolyInt, VarConst:
			return argInt, true
		case VarGlobalString:
			return argString, true
		case VarArray:
			return argIntArray, true
		default:
			return argAny, false // dynamic host variable, type unknown until runtime
		}
	case ArrayElemExpr:
		return argInt, true
	}
	return argAny, false
}

// callBuiltin executes a built-in at runtime given already-evaluated
// argument values and mutation callbacks for in-place arguments. setArg is
// nil-safe: it is only invoked for positions the signature marks mutated.
func callBuiltin(name string, args []Value, setArg func(i int, v Value), rng func(lo, hi int32) int32) (Value, error) {
	switch name {
	case "message":
		return Value{Kind: KindEmpty}, nil
	case "exit":
		return Value{Kind: KindEmpty}, errExit
	case "wait":
		return Value{Kind: KindEmpty}, nil // interpreted by the VM's statement loop, not here
	case "abs":
		v := args[0].Int
		if v < 0 {
			v = -v
		}
		return intVal(v), nil
	case "random":
		lo, hi := args[0].Int, args[1].Int
		if lo > hi {
			lo, hi = hi, lo
		}
		return intVal(rng(lo, hi)), nil
	case "num_elements":
		return intVal(int32(len(args[0].Arr))), nil
	case "inc":
		v := args[0].Int + 1
		setArg(0, intVal(v))
		return intVal(v), nil
	case "dec":
		v := args[0].Int - 1
		setArg(0, intVal(v))
		return intVal(v), nil
	case "in_range":
		v, lo, hi := args[0].Int, args[1].Int, args[2].Int
		if lo > hi {
			lo, hi = hi, lo
		}
		return boolVal(v >= lo && v <= hi), nil
	case "sh_left":
		return intVal(args[0].Int << uint32(args[1].Int&31)), nil
	case "sh_right":
		return intVal(args[0].Int >> uint32(args[1].Int&31)), nil
	case "min":
		if args[0].Int < args[1].Int {
			return intVal(args[0].Int), nil
		}
		return intVal(args[1].Int), nil
	case "max":
		if args[0].Int > args[1].Int {
			return intVal(args[0].Int), nil
		}
		return intVal(args[1].Int), nil
	case "array_equal":
		a, b := args[0].Arr, args[1].Arr
		if len(a) != len(b) {
			return boolVal(false), nil
		}
		for i := range a {
			if a[i] != b[i] {
				return boolVal(false), nil
			}
		}
		return boolVal(true), nil
	case "search":
		arr, target := args[0].Arr, args[1].Int
		for i, v := range arr {
			if v == target {
				return intVal(int32(i)), nil
			}
		}
		return intVal(-1), nil
	case "sort":
		arr := append([]int32(nil), args[0].Arr...)
		descending := len(args) > 1 && args[1].Int != 0
		insertionSortInt32(arr, descending)
		setArg(0, arrVal(arr))
		return Value{Kind: KindEmpty}, nil
	}
	return Value{}, fmt.Errorf("script: unknown built-in %q", name)
}

func insertionSortInt32(a []int32, descending bool) {
	less := func(x, y int32) bool {
		if descending {
			return x > y
		}
		return x < y
	}
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && less(v, a[j]) {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}
