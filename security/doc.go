// Package security inspects submitted source text before any engine sees it.
//
// Validate applies a language-aware deny-list and reports every violated rule
// at once. It never fails: an unsafe submission is a normal outcome. The
// static check is only the first layer; engines restrict what executed code
// can reach on their own.
package security
