// Command rollcall is the operator CLI for the voter upload pipeline. It
// reads the same configuration as rollcalld and talks directly to the job
// history database, so it works whether or not the daemon is running.
package main
