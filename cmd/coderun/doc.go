// Package main is coderun, a command-line front end to the execution
// service.
//
// coderun runs or validates a single source file with the configured
// engines and sandbox backend, optionally comparing its output with an
// expected answer:
//
//	coderun run --language python --expect 42 answer.py
//	coderun validate query.sql
//	coderun languages
//
// The language is taken from --language, then the file extension, then
// detection from the source text. Results are cached in memory for the
// lifetime of the process only.
package main
