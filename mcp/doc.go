// Package mcp contains the wire-level types of the Model Context Protocol
// subset implemented by this server: the initialize handshake, the tools,
// resources and prompts capability surfaces, ping, and logging level control.
//
// The types here are deliberately plain data carriers. Protocol behavior
// (routing, validation, session handling) lives in the engine and transport
// packages.
package mcp
