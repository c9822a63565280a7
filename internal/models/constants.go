package models

const (
	StatusActive    = "active"
	StatusCheckedIn = "checked_in"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

const (
	// DefaultTokenMarker wraps entry tokens encoded in member QR codes.
	DefaultTokenMarker = "GYMKAANA-"

	// DefaultScanFPS частота опроса камеры (кадров в секунду)
	DefaultScanFPS = 10

	// DefaultScanRegion размер квадратной области распознавания в пикселях
	DefaultScanRegion = 250

	// DefaultErrorResetSeconds задержка возврата из Error в Idle
	DefaultErrorResetSeconds = 4

	// DefaultSuccessResetSeconds задержка возврата из Success в Idle
	DefaultSuccessResetSeconds = 3

	// DefaultActivityLimit размер окна последних событий
	DefaultActivityLimit = 5

	// MinActivityLimit минимальный размер окна последних событий
	MinActivityLimit = 4

	// DefaultActivityRefreshSeconds период обновления ленты событий
	DefaultActivityRefreshSeconds = 5

	// LookupAttemptLimit количество поисков в окне на одного клиента
	LookupAttemptLimit = 30

	// LookupAttemptWindow окно ограничения поисков
	LookupAttemptWindow = 60 // 1 минута в секундах
)
