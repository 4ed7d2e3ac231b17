package script

import (
	"sort"
	"testing"

	"pgregory.net/rapid"
)

// TestSortMatchesStdlib checks the sort() built-in's core law (spec
// section 8): the result is the input multiset in non-decreasing order,
// for any int32 slice rapid can generate.
func TestSortMatchesStdlib(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Int32Range(-1000, 1000)).Draw(t, "in")
		arr := append([]int32(nil), in...)

		var setCalls [][]int32
		setArg := func(i int, v Value) { setCalls = append(setCalls, v.Arr) }
		_, err := callBuiltin("sort", []Value{arrVal(arr)}, setArg, func(lo, hi int32) int32 { return lo })
		if err != nil {
			t.Fatalf("sort returned error: %v", err)
		}

		want := append([]int32(nil), in...)
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		if len(setCalls) != 1 {
			t.Fatalf("expected exactly one in-place mutation, got %d", len(setCalls))
		}
		got := setCalls[0]
		if len(got) != len(want) {
			t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("sort mismatch at %d: got %v want %v", i, got, want)
			}
		}
	})
}

// TestSearchFindsAnyPresentElement checks search()'s law: for any element
// actually in the array, search returns an index whose value equals it;
// for an element known absent, search returns -1.
func TestSearchFindsAnyPresentElement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		arr := rapid.SliceOfN(rapid.Int32Range(0, 50), 1, 20).Draw(t, "arr")
		pickIdx := rapid.IntRange(0, len(arr)-1).Draw(t, "idx")
		target := arr[pickIdx]

		v, err := callBuiltin("search", []Value{arrVal(arr), intVal(target)}, nil, nil)
		if err != nil {
			t.Fatalf("search returned error: %v", err)
		}
		if v.Int < 0 || int(v.Int) >= len(arr) || arr[v.Int] != target {
			t.Fatalf("search(%v, %d) = %d is not a valid index of target", arr, target, v.Int)
		}
	})
}

// TestArrayEqualIsReflexiveAndDetectsDifference checks array_equal()'s two
// laws: a slice always equals a copy of itself, and differs from itself
// with one element perturbed (when that's still a different value).
func TestArrayEqualIsReflexiveAndDetectsDifference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		arr := rapid.SliceOfN(rapid.Int32Range(-100, 100), 1, 20).Draw(t, "arr")
		cp := append([]int32(nil), arr...)

		v, err := callBuiltin("array_equal", []Value{arrVal(arr), arrVal(cp)}, nil, nil)
		if err != nil || v.Int != 1 {
			t.Fatalf("array_equal(arr, copy-of-arr) = %v, err=%v, want 1", v, err)
		}

		idx := rapid.IntRange(0, len(arr)-1).Draw(t, "perturb_idx")
		perturbed := append([]int32(nil), arr...)
		perturbed[idx] = perturbed[idx] + 1
		if perturbed[idx] == arr[idx] {
			return // overflow wraparound coincidence, skip
		}
		v2, err := callBuiltin("array_equal", []Value{arrVal(arr), arrVal(perturbed)}, nil, nil)
		if err != nil || v2.Int != 0 {
			t.Fatalf("array_equal(arr, perturbed) = %v, err=%v, want 0", v2, err)
		}
	})
}

// TestInRangeLaw checks in_range()'s definition directly against the
// reference inequality for any triple of ints, with the bounds accepted in
// either order.
func TestInRangeLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int32().Draw(t, "v")
		lo := rapid.Int32().Draw(t, "lo")
		hi := rapid.Int32().Draw(t, "hi")

		res, err := callBuiltin("in_range", []Value{intVal(v), intVal(lo), intVal(hi)}, nil, nil)
		if err != nil {
			t.Fatalf("in_range returned error: %v", err)
		}
		a, b := lo, hi
		if a > b {
			a, b = b, a
		}
		want := int32(0)
		if v >= a && v <= b {
			want = 1
		}
		if res.Int != want {
			t.Fatalf("in_range(%d, %d, %d) = %d, want %d", v, lo, hi, res.Int, want)
		}
	})
}
