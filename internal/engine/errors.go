package engine

import xerrors "gisengine/internal/errors"

const (
	CodeWorkflowInvalid       xerrors.Code = "WORKFLOW_INVALID"
	CodeComponentNotFound     xerrors.Code = "COMPONENT_NOT_FOUND"
	CodeCycleDetected         xerrors.Code = "CYCLE_DETECTED"
	CodeDuplicateInput        xerrors.Code = "DUPLICATE_INPUT"
	CodeInputValidationFailed xerrors.Code = "INPUT_VALIDATION_FAILED"
	CodeNodeExecutionFailed   xerrors.Code = "NODE_EXECUTION_FAILED"
	CodeInternal              xerrors.Code = "ENGINE_INTERNAL"
)

var (
	ErrWorkflowInvalid = xerrors.New(CodeWorkflowInvalid, "")
	ErrNotFound        = xerrors.New(CodeComponentNotFound, "")
	ErrCycle           = xerrors.New(CodeCycleDetected, "")
	ErrDuplicateInput  = xerrors.New(CodeDuplicateInput, "")
	ErrInvalidInputs   = xerrors.New(CodeInputValidationFailed, "")
	ErrExecution       = xerrors.New(CodeNodeExecutionFailed, "")
)

func init() {
	xerrors.Register(CodeWorkflowInvalid, xerrors.Attributes{Message: "invalid workflow definition", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeComponentNotFound, xerrors.Attributes{Message: "component not registered", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeCycleDetected, xerrors.Attributes{Message: "cycle detected", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeDuplicateInput, xerrors.Attributes{Message: "input targeted by more than one connection", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInputValidationFailed, xerrors.Attributes{Message: "invalid inputs", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeNodeExecutionFailed, xerrors.Attributes{Message: "node execution failed", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeInternal, xerrors.Attributes{Message: "engine invariant violated", Severity: xerrors.SeverityCritical, Alert: true})
}
