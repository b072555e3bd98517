//go:build !inflightdebug

package invariant

const panicOnViolation = false
