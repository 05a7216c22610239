// Package platform provides the host-side implementations of the lifecycle
// ports: an in-process client registry fed by the control routes and a
// notifier that records notifications in the structured log.
package platform
