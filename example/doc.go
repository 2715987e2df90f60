// Package example holds sample kernel profiles. Each file under profiles/
// can be passed to kernelgen with -config.
package example
