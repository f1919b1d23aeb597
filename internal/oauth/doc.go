// Package oauth enforces OAuth bearer-token scopes at the tool invocation
// boundary. The Gate runs after discovery has already confirmed the caller
// may see the tool, and before the call is dispatched.
package oauth
