package models

const (
	StateConfirmed = "confirmed"
	StateArrived   = "arrived"
)

const (
	EventBookingCreated       = "booking_created"
	EventBookingUpdated       = "booking_updated"
	EventBookingArrivalMarked = "booking_arrival_marked"
	EventBookingDeleted       = "booking_deleted"
)

const (
	// DefaultDirectoryTimeout ограничение на один запрос к справочнику ресторанов
	DefaultDirectoryTimeout = 3 // секунды

	// DefaultLockTTL время жизни блокировки ресторана
	DefaultLockTTL = 10 // секунды

	// DefaultLockWait сколько ждать освобождения блокировки
	DefaultLockWait = 5 // секунды

	// DefaultDirectoryCacheTTL время жизни кэша профилей ресторанов
	DefaultDirectoryCacheTTL = 60 // секунды

	// DefaultBackupRetentionDays сколько дней хранить резервные копии
	DefaultBackupRetentionDays = 14
)
