// Package mcpservice exposes composable building blocks for implementing the
// server side of the protocol. Capabilities (tools, resources, prompts,
// logging) are surfaced through small interfaces that can be satisfied by the
// container types in this package or by custom implementations.
//
// Capability discovery follows a (value, ok, error) convention: ok == false
// means the capability is absent for this server. An empty value with
// ok == true is still advertised (an empty tools list is a present capability).
//
// All container types are safe for concurrent use and emit change signals
// through ChangeNotifier so transports can forward list_changed notifications.
package mcpservice
