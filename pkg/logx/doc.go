// Package logx is trustchain's structured logging on top of zerolog.
//
// A Service owns the sinks and can be reconfigured while loggers derived
// from it stay live. Chain components tag lines with the shared keys in
// fields.go (Block, Task, Fund, Call, Account), and repeated warnings go
// through a Throttle.
package logx
