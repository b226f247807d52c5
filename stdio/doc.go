// Package stdio implements the standard input/output transport: one JSON-RPC
// message per line, one persistent session for the process lifetime. All
// logging must go to stderr; stdout carries protocol frames only.
package stdio
