package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustRunToCompletion(t *testing.T, src, handler string) *ExecContext {
	t.Helper()
	prog := Parse(src)
	require.False(t, prog.HasErrors(), "issues: %+v", prog.Issues)
	globals := NewGlobals(prog)
	ctx := NewExecContext(prog, globals, nil)
	require.True(t, ctx.StartHandler(handler))
	now := time.Unix(0, 0)
	for i := 0; i < 10_000 && ctx.Status() != StatusTerminated; i++ {
		ctx.Run(now)
		now = now.Add(2 * time.Millisecond)
	}
	require.Equal(t, StatusTerminated, ctx.Status())
	return ctx
}

func TestVMArithmeticAndAssignment(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $x
	$x := 2 + 3 * 4
end on
`, "init")
	require.Equal(t, int32(14), ctx.globals.ints[0])
}

func TestVMIfElse(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $x
	declare $y
	$x := 5
	if $x > 3
		$y := 1
	else
		$y := 2
	end if
end on
`, "init")
	require.Equal(t, int32(1), ctx.globals.ints[1])
}

func TestVMWhileLoop(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $i
	declare $sum
	$i := 0
	while $i < 5
		$sum := $sum + $i
		$i := $i + 1
	end while
end on
`, "init")
	require.Equal(t, int32(10), ctx.globals.ints[1])
}

func TestVMSelect(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $x
	declare $result
	$x := 7
	select $x
		case 0 to 5
			$result := 1
		case 6 to 10
			$result := 2
	end select
end on
`, "init")
	require.Equal(t, int32(2), ctx.globals.ints[1])
}

func TestVMExplicitWaitSuspendsAndResumes(t *testing.T) {
	prog := Parse(`
on init
	declare $x
	$x := 1
	wait(5000)
	$x := 2
end on
`)
	require.False(t, prog.HasErrors())
	globals := NewGlobals(prog)
	ctx := NewExecContext(prog, globals, nil)
	ctx.StartHandler("init")

	start := time.Unix(0, 0)
	ctx.Run(start)
	require.Equal(t, StatusSuspended, ctx.Status())
	require.Equal(t, int32(1), globals.ints[0])

	ctx.Run(start.Add(time.Millisecond)) // too soon
	require.Equal(t, StatusSuspended, ctx.Status())
	require.Equal(t, int32(1), globals.ints[0])

	ctx.Run(start.Add(6 * time.Millisecond))
	require.Equal(t, StatusTerminated, ctx.Status())
	require.Equal(t, int32(2), globals.ints[0])
}

func TestVMHardBudgetAutoSuspends(t *testing.T) {
	// 300 sequential assignments exceeds the 210-instruction hard budget,
	// so a single Run call must not finish the handler.
	src := "on init\n\tdeclare $x\n"
	for i := 0; i < 300; i++ {
		src += "\t$x := 1\n"
	}
	src += "end on\n"

	prog := Parse(src)
	require.False(t, prog.HasErrors())
	globals := NewGlobals(prog)
	ctx := NewExecContext(prog, globals, nil)
	ctx.StartHandler("init")

	now := time.Unix(0, 0)
	ctx.Run(now)
	require.Equal(t, StatusSuspended, ctx.Status())

	ctx.Run(now.Add(2 * time.Millisecond))
	require.Equal(t, StatusTerminated, ctx.Status())
}

func TestVMForkToInheritsPolyMemoryAndRunsIndependently(t *testing.T) {
	prog := Parse(`
on note
	declare polyphonic $gain
	$gain := 42
end on

on release
	declare polyphonic $gain
	$gain := $gain + 1
end on
`)
	require.False(t, prog.HasErrors())
	globals := NewGlobals(prog)
	noteCtx := NewExecContext(prog, globals, nil)
	noteCtx.StartHandler("note")
	noteCtx.Run(time.Unix(0, 0))
	require.Equal(t, StatusTerminated, noteCtx.Status())
	require.Equal(t, int32(42), noteCtx.poly[0])

	releaseCtx, err := noteCtx.ForkTo("release")
	require.NoError(t, err)
	require.NotEqual(t, noteCtx.ForkID, releaseCtx.ForkID)
	releaseCtx.Run(time.Unix(0, 0))
	require.Equal(t, StatusTerminated, releaseCtx.Status())
	require.Equal(t, int32(43), releaseCtx.poly[0])
	// The original context's memory is untouched by the fork's mutation.
	require.Equal(t, int32(42), noteCtx.poly[0])
}

func TestVMBuiltinsIncDecSort(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $x
	$x := 5
	inc($x)
	inc($x)
	dec($x)
	declare %a[4] := (4, 1, 3, 2)
	sort(%a)
end on
`, "init")
	require.Equal(t, int32(6), ctx.globals.ints[0])
	require.Equal(t, []int32{1, 2, 3, 4}, ctx.globals.arrays["a"])
}

func TestVMDivisionByZeroYieldsZero(t *testing.T) {
	ctx := mustRunToCompletion(t, `
on init
	declare $x
	$x := 10 / 0
end on
`, "init")
	require.Equal(t, int32(0), ctx.globals.ints[0])
}

type stubHost struct {
	dynInts map[string]int32
}

func (h *stubHost) ResolveDynamicInt(name string) (int32, bool) {
	v, ok := h.dynInts[name]
	return v, ok
}
func (h *stubHost) ResolveDynamicString(name string) (string, bool) { return "", false }
func (h *stubHost) SetDynamicInt(name string, v int32)              { h.dynInts[name] = v }
func (h *stubHost) SetDynamicString(name string, v string)          {}
func (h *stubHost) RandomInt(lo, hi int32) int32                    { return lo }

func TestVMDynamicHostVariable(t *testing.T) {
	prog := Parse(`
on note
	declare $local
	$local := $EVENT_NOTE + 1
end on
`)
	require.False(t, prog.HasErrors())
	globals := NewGlobals(prog)
	host := &stubHost{dynInts: map[string]int32{"EVENT_NOTE": 60}}
	ctx := NewExecContext(prog, globals, host)
	ctx.StartHandler("note")
	ctx.Run(time.Unix(0, 0))
	require.Equal(t, StatusTerminated, ctx.Status())
	require.Equal(t, int32(61), globals.ints[0])
}
