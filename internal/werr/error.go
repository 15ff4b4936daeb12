package werr

// Error extends the standard error with a CodeError and an optional parent,
// mirroring the Add/GetParent/HasParent shape used elsewhere in this
// codebase's error-handling packages, trimmed to what the server needs.
type Error interface {
	error
	Code() CodeError
	HTTPStatus() int
	ExitCode() int
	Parent() error
	HasParent() bool
}

type werror struct {
	code   CodeError
	msg    string
	parent error
}

// New builds an Error for code, optionally wrapping a parent cause. msg
// overrides the registered message when non-empty.
func New(code CodeError, parent error, msg string) Error {
	if msg == "" {
		msg = code.Message()
	}
	return &werror{code: code, msg: msg, parent: parent}
}

// Of is a convenience for the common case of wrapping an existing error
// under a code with its registered message.
func Of(code CodeError, parent error) Error {
	return New(code, parent, "")
}

func (e *werror) Error() string {
	if e.parent != nil {
		return e.msg + ": " + e.parent.Error()
	}
	return e.msg
}

func (e *werror) Code() CodeError   { return e.code }
func (e *werror) HTTPStatus() int   { return e.code.HTTPStatus() }
func (e *werror) ExitCode() int     { return e.code.ExitCode() }
func (e *werror) Parent() error     { return e.parent }
func (e *werror) HasParent() bool   { return e.parent != nil }

func (e *werror) Unwrap() error { return e.parent }
