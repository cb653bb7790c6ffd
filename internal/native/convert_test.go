package native

import (
	"testing"

	v8 "github.com/tommie/v8go"
)

func TestToJSFromJSRoundTripPrimitives(t *testing.T) {
	iso := v8.NewIsolate()
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	cases := []any{true, false, "hello", int32(42), int64(-7), 3.5}
	for _, c := range cases {
		jsVal, err := ToJS(iso, ctx, c)
		if err != nil {
			t.Fatalf("ToJS(%v): %v", c, err)
		}
		if jsVal == nil {
			t.Fatalf("ToJS(%v) returned nil", c)
		}
	}
}

func TestFromJSIntegerRejectsNonIntegral(t *testing.T) {
	iso := v8.NewIsolate()
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	val, err := ctx.RunScript("3.5", "t.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	var out int
	if FromJS(val, &out) {
		t.Fatalf("expected non-integral number to fail integer conversion")
	}
}

func TestFromJSBoolUsesTruthiness(t *testing.T) {
	iso := v8.NewIsolate()
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	val, err := ctx.RunScript(`"nonempty"`, "t.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	var out bool
	if !FromJS(val, &out) || !out {
		t.Fatalf("expected truthy string to convert to true")
	}
}

func TestFromJSVectorRequiresArray(t *testing.T) {
	iso := v8.NewIsolate()
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	notArray, err := ctx.RunScript(`({})`, "t.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	_, ok := FromJSVector(notArray, func(v *v8.Value) (int, bool) {
		var i int
		return i, FromJS(v, &i)
	})
	if ok {
		t.Fatalf("expected non-array to fail vector conversion")
	}

	arr, err := ctx.RunScript(`[1, 2, 3]`, "t2.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	nums, ok := FromJSVector(arr, func(v *v8.Value) (int, bool) {
		var i int
		return i, FromJS(v, &i)
	})
	if !ok || len(nums) != 3 || nums[0] != 1 || nums[2] != 3 {
		t.Fatalf("nums = %v, ok = %v", nums, ok)
	}
}
