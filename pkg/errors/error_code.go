package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidStrategy      ErrorCode = 102
	ErrCodeInvalidTimeframe     ErrorCode = 103
	ErrCodeInvalidPeriod        ErrorCode = 104

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeEmptyBarSeries        ErrorCode = 203
	ErrCodeUnorderedBars         ErrorCode = 204
	ErrCodeDuplicateBars         ErrorCode = 205

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound      ErrorCode = 300
	ErrCodeIndicatorAlreadyExists ErrorCode = 301

	// Condition errors (400-499)
	ErrCodeUnknownIndicatorRef ErrorCode = 400
	ErrCodeUnknownOperator     ErrorCode = 401
	ErrCodeMalformedCondition  ErrorCode = 402

	// Risk errors (500-599)
	ErrCodeInvalidRiskSettings ErrorCode = 500
	ErrCodeZeroStopDistance    ErrorCode = 501

	// Backtest errors (600-699)
	ErrCodeJournalFailed       ErrorCode = 601
	ErrCodeResultExportFailed  ErrorCode = 602
	ErrCodeBacktestConfigError ErrorCode = 603

	// Optimization errors (700-799)
	ErrCodeInvalidParameterRange ErrorCode = 700
	ErrCodeInvalidFitnessMetric  ErrorCode = 701
	ErrCodeOptimizationCancelled ErrorCode = 702
)
