// Package all registers every built-in driver with the driver factory.
// Import it for side effects from wiring code:
//
//	import _ "dataflow/internal/driver/all"
package all

import (
	_ "dataflow/internal/driver/csvfile"
	_ "dataflow/internal/driver/relational"
	_ "dataflow/internal/driver/warehouse"
)
