// Package wasmserve hosts a precompiled WebAssembly handler component
// behind an HTTP listener, running every request in a fresh sandbox.
//
// # Overview
//
// wasmserve compiles the component once at startup and instantiates it
// per request. Each instantiation gets its own isolated execution
// context: captured stdio tagged with the request id, a deny-by-default
// capability surface, an optional linear-memory ceiling, and an optional
// wall-clock deadline enforced by a shared epoch ticker. A misbehaving
// request is aborted without touching any other request or the server.
//
// # Basic Usage
//
//	wasmserve handler.wasm
//	wasmserve --addr 127.0.0.1:9090 --timeout 2s --fuel 100000 handler.wasm
//	wasmserve -S cli --dir /srv/data::/data handler.wasm
//
// The component imports the http_handler ABI to read its request and
// stream its response; see the hostfunc package for the contract.
package wasmserve
