package optname

const (
	ChunkSize          = "chunk-size"
	Concurrency        = "concurrency"
	ConnTimeout        = "connect-timeout"
	Force              = "force"
	LimitMode          = "limit-mode"
	LimitRate          = "limit-rate"
	LoggingLevel       = "log-level"
	MaxConcurrentFiles = "max-concurrent-files"
	MaxConnPerHost     = "max-conn-per-host"
	Output             = "output"
	PIDFile            = "pid-file"
	QueueDepth         = "queue-depth"
	ReadTimeout        = "read-timeout"
	Resolve            = "resolve"
	Retries            = "retries"
	Slices             = "slices"
	Verbose            = "verbose"
)
