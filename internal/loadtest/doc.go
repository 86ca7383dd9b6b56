// Package loadtest drives database load: a pool of connections, a set of
// workers executing one of several operation modes, a token bucket capping
// throughput, and a metrics engine aggregating the results. The
// Controller wires these together for a single timed run with warm-up and
// ramp-up phases.
package loadtest
