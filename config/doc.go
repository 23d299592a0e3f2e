// Package config loads TIS chip settings from TOML.
//
// A file overrides only the keys it defines:
//
//	name = "tpm0"
//	variant = "slb9670"
//	pcr_count = 24
//	pcr_select_min = 3
//	vendor_db = "/usr/share/misc/tpm.ids"
//
//	[timeouts]
//	a = "750ms"
//	b = "2s"
//
//	[transport]
//	kind = "mmio"
//	device = "/dev/mem"
//	base = 0xFED40000
//
//	[log]
//	level = "info"
//	format = "json"
package config
