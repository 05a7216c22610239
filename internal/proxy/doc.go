// Package proxy intercepts every request the agent receives and answers it
// cache-first: a hit in the current generation is served as stored, a miss
// goes to the origin and successful same-origin responses are written back in
// the background. When the origin is unreachable, navigations fall back to the
// cached application shell and everything else receives the 503 offline
// placeholder.
package proxy
