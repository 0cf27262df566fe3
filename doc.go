/*
Package dup provides an HTTP request duplicator, that mirrors selected
live requests to a secondary destination without delaying the original
responses.

Dup works as an HTTP reverse proxy in front of a backend service. Each
request is served by the backend as usual. When the path of the request
falls under a configured location, a copy of the request is handed to a
bounded queue, and a pool of workers sends the copies to the
destination in the background. The duplicates can be filtered and
rewritten per location before sending.

Dup does not guarantee the delivery of the duplicates, it does not retry
them, and it does not wait for them before responding to the clients.

# Quickstart

Start a backend and a destination, and run dup in front of the backend:

	dup -backend http://localhost:8080 -destination localhost:8081 -location /api &
	curl localhost:9090/api/items?id=42

The request is served by the backend, and the same request is sent to
http://localhost:8081/api/items?id=42.

# Locations

A location is a path prefix. A request belongs to the longest configured
location that is a prefix of its path. Requests outside every location
are proxied without duplication.

Locations can be enabled with the repeatable -location flag, or by the
locations list of the YAML configuration file, which also allows the
rules:

	locations:
	- path: /api
	  payload: true
	  filters:
	  - scope: header
	    field: token
	    pattern: "^[A-Z]+$"
	  substitutions:
	  - scope: all
	    field: token
	    pattern: ".*"
	    replacement: ANONYMOUS
	  raw-substitutions:
	  - scope: body
	    pattern: secret
	    replacement: REDACTED

With payload enabled, the body of the requests is duplicated, too.

# Filters

A location without filters duplicates every request. Otherwise, a
request is duplicated when any of the filters matches. A field filter
matches the decoded value of a named argument of the query string
(HEADER scope) or of the form encoded body (BODY scope). A raw filter
matches the whole query string or the whole body. The patterns are
regular expressions with the RE2 syntax.

# Substitutions

The substitutions rewrite the selected requests. Field substitutions
rewrite the decoded values of the arguments, in the order of their
definition, and the arguments are encoded again with the configured URL
codec. Raw substitutions rewrite the whole query string or body, after
the field substitutions. The replacements may refer to the groups of the
pattern, e.g. $1.

# URL Codecs

The default codec decodes the arguments as HTML forms, where '+' means
a space. The apache codec decodes only the percent encoded sequences,
and encodes spaces as %20.

# Workers

The duplicates are sent by a pool of workers, that grows while the queue
has a backlog above its minimum size, and shrinks when the queue is
empty, between -min-threads and -max-threads. When the queue is full,
the request handlers wait for free space, after serving their
responses.

# Metrics and Logs

The support listener exposes the metrics at /metrics, in the Coda Hale
JSON format or the Prometheus format, see -metrics-flavour. Every
second, the pool logs the number of duplicated requests and timed out
duplicates since the previous report, the size of the queue and the
number of workers:

	dup #TmOut: 0, #DupReq: 120, #Queued: 0, #Workers: 2

The result of each duplicate is written to the duplicate log, unless
disabled.
*/
package dup
