package api

import (
	"maps"
	"slices"
)

type (
	// Args represents a map of named values passed to or returned by steps
	Args map[Name]Value

	// Name is a string identifier for context entries and step inputs
	Name string
)

// Set creates a new Args with the specified name-value pair added
func (a Args) Set(name Name, value Value) Args {
	if a == nil {
		return Args{name: value}
	}
	res := maps.Clone(a)
	res[name] = value
	return res
}

// Merge returns a new Args containing a overlaid with other
func (a Args) Merge(other Args) Args {
	res := make(Args, len(a)+len(other))
	maps.Copy(res, a)
	maps.Copy(res, other)
	return res
}

// Names returns the sorted names present in a
func (a Args) Names() []Name {
	return slices.Sorted(maps.Keys(a))
}

// Value converts a into a map Value
func (a Args) Value() Value {
	res := make(map[string]Value, len(a))
	for k, v := range a {
		res[string(k)] = v
	}
	return Map(res)
}

// Equal reports whether both Args hold deeply equal values
func (a Args) Equal(other Args) bool {
	return maps.EqualFunc(a, other, Value.Equal)
}

// GetString retrieves a string value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetString(name Name, defaultValue string) string {
	if s, ok := a[name].AsString(); ok {
		return s
	}
	return defaultValue
}

// GetBool retrieves a boolean value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetBool(name Name, defaultValue bool) bool {
	if b, ok := a[name].AsBool(); ok {
		return b
	}
	return defaultValue
}

// GetInt retrieves an integer value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetInt(name Name, defaultValue int64) int64 {
	if i, ok := a[name].AsInt(); ok {
		return i
	}
	return defaultValue
}

// GetFloat retrieves a float value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetFloat(name Name, defaultValue float64) float64 {
	if f, ok := a[name].AsFloat(); ok {
		return f
	}
	return defaultValue
}
