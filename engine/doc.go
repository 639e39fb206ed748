// Package engine runs registered task functions in separate worker
// processes and collects their results in completion order.
//
// Go cannot hand a closure to a forked child, so a worker is a
// re-execution of the current binary: the coordinator spawns
// os.Executable with a marker environment, sends a work order naming a
// Register-ed function over an inherited socket, and reads the result
// back from the same socket once the worker exits. Main is the split
// point; it must run before any coordinator logic so worker processes
// never fall through into the host program.
//
// Process control is Unix-oriented: workers get their own process
// group and are force-killed group-wide on Stop. On Windows spawning
// fails up front because the channel pair cannot be created there.
package engine
