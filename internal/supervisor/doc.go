// Package supervisor runs external tools on behalf of batch jobs.
//
// A Supervisor starts a child in its own process group, streams its stdout
// and stderr line by line to caller sinks, and owns a watchdog goroutine that
// kills the child if the supervising process stops being alive. On Linux the
// child also receives SIGKILL through the parent-death signal, so an abrupt
// supervisor exit never leaves an encoder running. Every live child is
// tracked in a Registry so a run can terminate them all on shutdown.
//
// Non-zero exits surface as *ExitError, which matches services.ErrExternalTool
// under errors.Is.
package supervisor
