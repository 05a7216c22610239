// Package lifecycle runs the agent's install → waiting → activating → active
// state machine. The Controller owns the single current-generation slot read
// by the interceptor, populates new generations, prunes old ones on
// activation and claims clients through the injected Clients port. The
// Dispatcher turns push payloads into notifications and routes notification
// clicks to an existing or new window.
package lifecycle
