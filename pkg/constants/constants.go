package constants

import (
	"encoding/json"
	"time"
)

// Queue message types.
const (
	QueueMessageTypeSubmit    = "submit"
	QueueMessageTypeStatus    = "status"
	QueueMessageTypeCancel    = "cancel"
	QueueMessageTypeRejudge   = "rejudge"
	QueueMessageTypeHandshake = "handshake"
	QueueMessageTypeWorkers   = "workers"
)

// Verdict messages.
const (
	VerdictMessageAccepted         = "all test cases passed"
	VerdictMessageWrongAnswer      = "output differs from expected output on test %d"
	VerdictMessageTimeout          = "time limit of %d ms exceeded on test %d"
	VerdictMessageMemory           = "memory limit of %d kb exceeded on test %d"
	VerdictMessageOutput           = "output limit of %d bytes exceeded on test %d"
	VerdictMessageRuntimeError     = "runtime error (exit code %d) on test %d"
	VerdictMessageCompilationError = "compilation error occurred"
	VerdictMessageSandboxFailure   = "judge failure while running test %d"
	VerdictMessageNoTestCases      = "problem has no test cases"
	VerdictMessageAttempts         = "judging abandoned after %d attempts"
)

// WorkerStatus is the state of one worker of the pool.
type WorkerStatus int

const (
	WorkerStatusIdle WorkerStatus = iota
	WorkerStatusBusy
)

func (ws WorkerStatus) String() string {
	switch ws {
	case WorkerStatusIdle:
		return "idle"
	case WorkerStatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

func (ws WorkerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.String())
}

// Exit codes.
const (
	ExitCodeSuccess      = 0
	ExitCodeSigKill      = 137
	ExitCodeSigXCPU      = 152
	ExitCodeSigXFSZ      = 153
	ExitCodeTimeoutTool  = 124
	// ExitCodeSandboxSetup is returned by the limit wrapper when it cannot
	// apply a limit. It is only trusted together with SandboxSetupMarker.
	ExitCodeSandboxSetup = 121
)

const SandboxSetupMarker = "judge-sandbox-setup-failed"

// Configuration defaults.
const (
	DefaultNodeID           = "judge-1"
	DefaultMaxWorkers       = 4
	DefaultQueueCapacity    = 64
	DefaultMaxAttempts      = 2
	DefaultLeaseTTL         = 30 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultPriorityBurst    = 4
	DefaultMaxSourceBytes   = 65535
	DefaultSandboxDriver    = SandboxDriverDocker
	DefaultWallTimeGrace    = time.Second
	DefaultOutputCapBytes   = 64 * 1024
	DefaultStatusTTL        = 24 * time.Hour
	DefaultRabbitmqHost     = "localhost"
	DefaultRabbitmqUser     = "guest"
	DefaultRabbitmqPassword = "guest"
	DefaultRabbitmqPort     = "5672"
	DefaultJudgeQueueName   = "judge_queue"
	DefaultStatusQueueName  = "judge_status"
	DefaultHTTPAddr         = ":8080"
	DefaultLogDir           = "logs"
	DefaultLogLevel         = "info"
)

// Sandbox drivers.
const (
	SandboxDriverDocker  = "docker"
	SandboxDriverProcess = "process"
)

// Sandbox layout and limits.
const (
	SandboxWorkDir        = "/sandbox"
	SandboxTmpfsSize      = "64m"
	SandboxPidsLimit      = 16
	CompileTimeout        = 30 * time.Second
	CompileOutputCapBytes = 16 * 1024
	RunnerUser            = "65534:65534"
	ContainerStopTimeout  = 10 * time.Second
)

// Caps applied to each run and compile.
const (
	SandboxMaxFileBytes       = 64 * 1024 * 1024
	SandboxProcessLimit       = 64
	ArtifactCapBytes          = 64 * 1024 * 1024
	CompileMemoryKB     int64 = 1024 * 1024
)

// Memory headroom, in kilobytes.
const (
	// MinContainerMemoryKB is the floor of a container memory limit.
	MinContainerMemoryKB int64 = 64 * 1024
	// ContainerMemHeadroomKB covers the shell and runtime inside the container.
	ContainerMemHeadroomKB int64 = 64 * 1024
	// AddressSpaceHeadroomKB is added to RLIMIT_AS in the process driver so
	// runtimes that reserve large virtual ranges still start.
	AddressSpaceHeadroomKB int64 = 256 * 1024
)

// Cache and event constants.
const (
	StatusKeyPrefix       = "judge:status:"
	RabbitMQMaxPriority   = 3
	RabbitMQPrefetch      = 16
	ResponderBufferSize   = 256
	HTTPShutdownTimeout   = 10 * time.Second
	HTTPReadHeaderTimeout = 10 * time.Second
	MetricsSampleInterval = 15 * time.Second
	RabbitMQDialAttempts  = 10
	RabbitMQDialBackoff   = 2 * time.Second
)
