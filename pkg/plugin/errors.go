package plugin

import xerrors "gisengine/internal/errors"

const (
	CodeLoadFailed        xerrors.Code = "PLUGIN_LOAD_FAILED"
	CodeReloadUnsupported xerrors.Code = "PLUGIN_RELOAD_UNSUPPORTED"
)

var (
	// ErrLoadFailed matches the error handed to the observer for a skipped
	// candidate or a failed wrapper hook.
	ErrLoadFailed = xerrors.New(CodeLoadFailed, "plugin load failed")
	// ErrReloadUnsupported is returned by Reload.
	ErrReloadUnsupported = xerrors.New(CodeReloadUnsupported, "plugin reload is not supported")
)

func init() {
	xerrors.Register(CodeLoadFailed, xerrors.Attributes{Message: "plugin could not be loaded", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeReloadUnsupported, xerrors.Attributes{Message: "plugin reload is not supported", Severity: xerrors.SeverityInfo})
}

func loadFailed(name string, cause error) error {
	return xerrors.Wrap(CodeLoadFailed, cause, "load plugin "+name, xerrors.WithMetadata("plugin", name))
}
