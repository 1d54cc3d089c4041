// Package logx is poolbot's structured logging layer.
//
// Logger is a small value type on top of zerolog. Console output stays readable
// (short timestamp, short caller), file output stays JSON, and an optional chat
// sink forwards warnings to an operator chat with a rate limit.
package logx
