// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package vartype

import (
	"fmt"
)

// Variable is an optional value: it holds a value of T and remembers whether it was ever set.
// The zero Variable is unset.
type Variable[T any] struct {
	value T
	isset bool
}

// Some creates and returns a set Variable holding the provided value.
func Some[T any](value T) Variable[T] {
	return Variable[T]{
		isset: true,
		value: value,
	}
}

// None returns an unset Variable of type T.
func None[T any]() Variable[T] {
	return Variable[T]{}
}

// Reset clears the value of the Variable and marks it as unset.
func (v *Variable[T]) Reset() {
	var newVal T
	v.value = newVal
	v.isset = false
}

// Value retrieves the current value stored in the Variable. For an unset Variable this is the
// zero value of T.
func (v Variable[T]) Value() T {
	return v.value
}

// Get returns the value and whether it is set, in the comma-ok style of map lookups.
func (v Variable[T]) Get() (T, bool) {
	return v.value, v.isset
}

// Set assigns the provided value to the Variable and marks it as set.
func (v *Variable[T]) Set(val T) {
	v.value = val
	v.isset = true
}

// IsSet returns true if the Variable holds a value.
func (v Variable[T]) IsSet() bool {
	return v.isset
}

// String returns a string representation of the Variable.
func (v Variable[T]) String() string {
	if !v.isset {
		return "<none>"
	}
	return fmt.Sprint(v.value)
}
