// Package tpmid maps TPM vendor and device IDs to human-readable names.
//
// The vendor half of TPM_DID_VID is a TCG-registered (PCI-style) vendor
// ID. A built-in table covers the common TPM vendors; an ID file can
// extend it with more vendors and with device names.
//
// # Usage
//
//	db := tpmid.NewWithPaths([]string{"/etc/softtpm/tpm.ids"})
//	if _, err := db.Load(); err != nil {
//	    log.Print(err)
//	}
//	fmt.Println(db.Describe(0x15d1, 0x001b)) // Infineon (15d1:001b)
//
// # File Format
//
// The ID file follows the usb.ids layout. Vendor lines hold a four-digit
// hex ID, two spaces and a name; tab-indented device lines belong to the
// vendor above them:
//
//	# vendor  vendor_name
//	#	device  device_name
//	15d1  Infineon
//		001b  SLB9670
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package tpmid
