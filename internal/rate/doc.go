// Package rate provides Redis fixed-window counters that throttle login
// failures and forgot-password requests per client IP.
//
// # Window semantics
//
// INCR, then EXPIRE on the first hit in the window. Key prefixes:
//   - agl: login failures per IP
//   - agr: forgot-password requests per IP
//
// Counters live in Redis so every instance behind the load balancer sees
// the same budget.
package rate
