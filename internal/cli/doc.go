// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It maps
// the run, validate and history commands onto the application and prints
// their results as tables.
package cli
