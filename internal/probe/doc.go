// Package probe runs reachability checks against devices.
//
// A [Prober] performs exactly one attempt per call. Devices with a check URL
// get an HTTP GET through a pooled [Client]; the rest get an ICMP echo
// through a [Pinger]. Both paths share one timeout and report failures as
// [Result] values classified by [ErrorKind].
package probe
