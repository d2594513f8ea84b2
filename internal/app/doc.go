// Package app contains the core application logic. It builds a session from
// a layout and settings, and runs the background worker, the instrument
// acquisition loops, the frame loop and the health server until the run
// ends, decoupled from any specific entrypoint like a CLI.
package app
