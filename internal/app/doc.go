// Package app assembles configuration into the running components shared by
// every command: the tool dataset and registry, the language model gateway,
// the agent, and the optional asynchronous run service.
package app
