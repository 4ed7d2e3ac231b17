package script

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleHandler(t *testing.T) {
	prog := Parse(`
on init
	declare $counter
	$counter := 1 + 2 * 3
end on
`)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
	require.Contains(t, prog.Handlers, "init")
	require.Len(t, prog.Handlers["init"].Body, 2)
	require.Equal(t, 1, prog.GlobalIntCount)
}

func TestParseDeclarePolyphonic(t *testing.T) {
	prog := Parse(`
on note
	declare polyphonic $gain
	$gain := 100
end on
`)
	require.False(t, prog.HasErrors())
	require.Equal(t, 1, prog.PolyIntCount)
	require.Equal(t, 0, prog.GlobalIntCount)
}

func TestParseConstFoldsToLiteral(t *testing.T) {
	prog := Parse(`
on init
	declare const $MAX := 127
	declare $clamped
	$clamped := min($MAX, 200)
end on
`)
	require.False(t, prog.HasErrors())
	require.Equal(t, int32(127), prog.ConstInts["MAX"])

	assign, ok := prog.Handlers["init"].Body[2].(AssignStmt)
	require.True(t, ok)
	call, ok := assign.Rhs.(CallExpr)
	require.True(t, ok)
	require.Equal(t, IntLitExpr{Value: 127}, call.Args[0])
}

func TestParseIfElseSelectWhileSync(t *testing.T) {
	prog := Parse(`
on note
	declare $x
	if $x > 0
		$x := $x - 1
	else
		$x := 0
	end if
	select $x
		case 0 to 10
			$x := 1
		case 11
			$x := 2
	end select
	while $x > 0
		$x := $x - 1
	end while
	sync
		$x := $x + 1
	end sync
end on
`)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
	body := prog.Handlers["note"].Body
	require.IsType(t, BranchStmt{}, body[1])
	require.IsType(t, SelectStmt{}, body[2])
	require.IsType(t, LoopStmt{}, body[3])
	require.IsType(t, SyncStmt{}, body[4])
}

func TestParseArrayDeclareAndIndex(t *testing.T) {
	prog := Parse(`
on init
	declare %notes[3] := (60, 64, 67)
	declare $first
	$first := %notes[0]
end on
`)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
	decl, ok := prog.Handlers["init"].Body[0].(ArrayDeclStmt)
	require.True(t, ok)
	require.Equal(t, "notes", decl.Name)
	require.Len(t, decl.Elems, 3)
}

func TestBuiltinArityErrorRecorded(t *testing.T) {
	prog := Parse(`
on init
	call abs
end on
`)
	// "abs" called with call-statement syntax isn't arity-checked (it has
	// no args by grammar), but used as an expression it is:
	prog2 := Parse(`
on init
	declare $x
	$x := abs(1, 2)
end on
`)
	require.False(t, prog.HasErrors())
	require.True(t, prog2.HasErrors())
}

func TestParseFunctionAndCall(t *testing.T) {
	prog := Parse(`
function helper
	declare $y
	$y := 1
end function

on init
	call helper
end on
`)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
	require.Contains(t, prog.Functions, "helper")
	leaf, ok := prog.Handlers["init"].Body[0].(LeafStmt)
	require.True(t, ok)
	call, ok := leaf.Expr.(CallExpr)
	require.True(t, ok)
	require.Equal(t, "helper", call.Name)
}

func TestParseBitwiseKeywords(t *testing.T) {
	prog := Parse(`
on init
	declare $a
	$a := (5 band 3) bor (bnot 1)
end on
`)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
}
