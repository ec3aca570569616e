package component

import xerrors "gisengine/internal/errors"

const (
	CodeDuplicate xerrors.Code = "COMPONENT_DUPLICATE"
	CodeInvalid   xerrors.Code = "COMPONENT_INVALID"
)

var (
	// ErrDuplicate matches registrations rejected because the id is taken.
	ErrDuplicate = xerrors.New(CodeDuplicate, "component already registered")
	// ErrInvalid matches factories that cannot produce a usable component.
	ErrInvalid = xerrors.New(CodeInvalid, "invalid component")
)

func init() {
	xerrors.Register(CodeDuplicate, xerrors.Attributes{Message: "component id already registered", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeInvalid, xerrors.Attributes{Message: "component cannot be described", Severity: xerrors.SeverityWarning})
}

func invalid(format string, args ...any) error {
	return xerrors.Newf(CodeInvalid, "invalid component: "+format, args...)
}
