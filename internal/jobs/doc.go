// Package jobs executes batch command files against the store.
//
// A job file holds one command per line:
//
//	WRITE [(key,value)(key2,value2)]
//	READ [key,key2]
//	DELETE [key,key2]
//	SHOW
//	WAIT <delay_ms>
//	BACKUP
//	HELP
//
// Blank lines and lines starting with '#' are ignored. Results are written
// to an output file next to the job, named after it with the ".out"
// extension.
//
// The main components are:
//
//   - [Parser]: Turns a job stream into [Command] values
//   - [Runner]: Executes one job against the store and backup manager
//   - [Dispatcher]: Discovers job files, runs them on a bounded pool and
//     optionally watches the directory for new ones
package jobs
