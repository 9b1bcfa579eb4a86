// Package guard decides whether a request for a protected page may proceed.
//
// The guard resolves the current identity, then (only if one exists) checks that the
// requested resource exists. Anything it cannot allow becomes a redirect: to the sign-in
// page with a callback back to the original path, or to a safe fallback page. The guard
// never turns a failure into an error response for the end user.
package guard
