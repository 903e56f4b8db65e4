// funcs.go - identity comparison for registered callback values

package ipt

import "reflect"

// funcsEqual reports whether a and b reference the same function, the only
// sense in which two Go func values can be compared. Method values and
// closures created from the same call site compare equal even if their
// captured state differs. Manager identifies subscribers by this comparison
// alone; the opaque value stored alongside cb is never compared.
func funcsEqual(a, b interface{}) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsNil() || vb.IsNil() {
		return va.IsNil() && vb.IsNil()
	}
	return va.Pointer() == vb.Pointer()
}
