/*
Package logging implements application log instrumentation and the
duplicate log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, set the level, switch to
JSON output, and set a common prefix for each log entry. Setting the
prefix helps splitting the output when the duplicate log is written to
the same file.

Components that accept a Logger in their options fall back to
DefaultLog, which forwards to the standard logrus logger.

# Duplicate Log

The duplicate log prints one line for every duplicated request that was
sent to the destination, with the outcome of the attempt:

	[date] "method uri" status duration_ms location id

The duplicate log is disabled by default. It can be enabled during
initialization.
*/
package logging
