package turnstile

import "github.com/xraph/turnstile/types"

// Re-export common types for convenience so users don't have to import types package.

// Day is re-exported from types package.
type Day = types.Day

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Day constructors
var (
	DayOf    = types.DayOf
	Today    = types.Today
	ParseDay = types.ParseDay
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
