// Package constants provides shared constants used across the codebase.
package constants

// Image processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) of a photo sent to the embedding server
	MaxImageSize = 1280

	// MaxPhotoBytes is the largest decoded photo accepted from clients (10MB)
	MaxPhotoBytes = 10 << 20
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for enrollment and imports
	WorkerPoolSize = 4

	// EmployeeCodePrefix prefixes generated internal employee codes
	EmployeeCodePrefix = "EMP"

	// EmployeeCodeLayout is the timestamp layout appended to EmployeeCodePrefix
	EmployeeCodeLayout = "20060102150405"
)

// Employee defaults applied when registration omits them
const (
	DefaultDepartment = "General"
	DefaultPosition   = "Empleado"
)
