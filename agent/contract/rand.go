package contract

import "math/rand/v2"

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// DefaultRand draws from the goroutine-safe top-level math/rand/v2 source.
var DefaultRand Rand = globalRand{}
