package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// CodeError is an error that is safe to show to a client: Msg is the
// human-readable text sent on the wire, Detail stays server side.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Fatal  bool   `json:"-"` // the session must be closed after replying
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func newFatal(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg, Fatal: true}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// Wrap keeps cause in Detail and attaches a stack trace.
func (e *CodeError) Wrap(cause error) error {
	if cause == nil {
		return pkgerrors.WithStack(e.clone())
	}
	return pkgerrors.WithStack(e.WithDetail(cause.Error()))
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
		Fatal:  e.Fatal,
	}
}

// Is matches by code so that detailed copies still satisfy errors.Is
// against the predefined values.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// As extracts the first CodeError in err's chain.
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) && ce != nil {
		return ce, true
	}
	return nil, false
}

// IsFatal reports whether err requires closing the connection.
func IsFatal(err error) bool {
	ce, ok := As(err)
	return ok && ce.Fatal
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}
