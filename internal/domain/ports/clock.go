package ports

import "time"

// Clock supplies the invocation time.
type Clock interface {
	Now() time.Time
}
