// Package server hosts the Fiber HTTP service that fronts the application
// origin: request-ID and recovery middleware, the catch-all route that hands
// intercepted requests to the proxy, and the shared origin http.Client.
// Paths under /-/ are reserved for the control surface registered by the
// routes subpackage and never reach the proxy.
package server
