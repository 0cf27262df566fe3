/*
Package request defines the unit of work handed from the capturing
handler to the duplicating workers.

A queue carries Items. An Item is either a captured request (*Info) or
the Stop sentinel, which tells the worker popping it to return. Consumers
are expected to use a type switch:

	switch it := q.Pop().(type) {
	case request.Stop:
		return
	case *request.Info:
		handle(it)
	}
*/
package request

// Item is an element of the hand-off queue. It is implemented only by
// *Info and Stop.
type Item interface {
	item()
}

// Info describes one captured request.
type Info struct {

	// Location is the configured location (path prefix) that matched
	// the request.
	Location string

	// Method is the HTTP method of the original request. When empty,
	// the duplicate is sent as GET, or as POST when it has a body.
	Method string

	// Path is the path part of the request URI, in its escaped form.
	Path string

	// Args is the raw query string, without the leading '?'.
	Args string

	// Body is set only when the payload of the location is captured.
	Body *string
}

// Stop is the poison item. Each worker that pops it terminates without
// putting it back.
type Stop struct{}

func (*Info) item() {}
func (Stop) item()  {}

// New creates a captured request. The body is copied, a nil body means
// that the payload was not captured.
func New(location, path, args string, body *string) *Info {
	r := &Info{Location: location, Path: path, Args: args}
	if body != nil {
		b := *body
		r.Body = &b
	}

	return r
}

// HasBody tells whether the request carries a non-empty body.
func (r *Info) HasBody() bool {
	return r.Body != nil && *r.Body != ""
}
