package deploy

// StepName identifies one pipeline step.
type StepName string

// Pipeline steps in execution order.
const (
	StepCheckout             StepName = "checkout"
	StepEnsureDirectories    StepName = "ensure-directories"
	StepUpdateSchema         StepName = "update-schema"
	StepPrecomputeContent    StepName = "precompute-content"
	StepCollectStatic        StepName = "collect-static"
	StepPurgeBytecode        StepName = "purge-bytecode"
	StepWriteLocalSettings   StepName = "write-local-settings"
	StepCompileBytecode      StepName = "compile-bytecode"
	StepPublishServiceConfig StepName = "publish-service-config"
	StepRecordAudit          StepName = "record-audit"
)

// Steps lists every pipeline step in execution order.
var Steps = []StepName{
	StepCheckout,
	StepEnsureDirectories,
	StepUpdateSchema,
	StepPrecomputeContent,
	StepCollectStatic,
	StepPurgeBytecode,
	StepWriteLocalSettings,
	StepCompileBytecode,
	StepPublishServiceConfig,
	StepRecordAudit,
}

// StepOutcome is the result of one step.
type StepOutcome string

const (
	OutcomeSucceeded StepOutcome = "succeeded"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeSkipped   StepOutcome = "skipped"
)
