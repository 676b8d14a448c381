// Package generated holds module tests scaffolded by "goheal generate".
//
// A module is regenerated only after its test file is deleted. The tests
// skip unless GOHEAL_E2E is set.
package generated
