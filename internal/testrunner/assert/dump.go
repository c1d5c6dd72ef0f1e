package assert

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// DeepEqual asserts structural equality via reflect.DeepEqual, dumping both
// sides with go-spew on mismatch so failures on LatValue trees and other
// nested structs are readable without a manual String() method.
func DeepEqual(t testing.TB, got, want any, msgAndArgs ...any) bool {
	t.Helper()
	if reflect.DeepEqual(got, want) {
		return true
	}
	loc := caller()
	base := fmt.Sprintf("DeepEqual mismatch at %s\n--- got ---\n%s--- want ---\n%s",
		loc, spew.Sdump(got), spew.Sdump(want))
	if len(msgAndArgs) > 0 {
		base += fmt.Sprint(msgAndArgs...)
	}
	t.Errorf(base)
	return false
}
