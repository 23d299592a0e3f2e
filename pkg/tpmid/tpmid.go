package tpmid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// builtinVendors are TCG-registered TPM vendor IDs as reported in the low
// half of TPM_DID_VID.
var builtinVendors = map[uint16]string{
	0x1014: "IBM",
	0x1022: "AMD",
	0x104A: "STMicroelectronics",
	0x1050: "Nuvoton",
	0x1114: "Atmel",
	0x1414: "Microsoft",
	0x14E4: "Broadcom",
	0x15D1: "Infineon",
	0x1AE0: "Google",
	0x8086: "Intel",
}

// Database resolves TPM vendor and device IDs to names.
type Database struct {
	vendors  map[uint16]string // VID -> vendor name
	devices  map[uint32]string // (VID<<16)|DID -> device name
	loaded   bool
	fromFile bool
	loadErr  error
	mu       sync.RWMutex
	paths    []string
}

// New returns a database holding only the built-in vendor table.
func New() *Database {
	return NewWithPaths(nil)
}

// NewWithPaths returns a database that Load extends from the first
// readable file in paths.
func NewWithPaths(paths []string) *Database {
	db := &Database{
		vendors: make(map[uint16]string, len(builtinVendors)),
		devices: make(map[uint32]string),
		paths:   paths,
	}
	for vid, name := range builtinVendors {
		db.vendors[vid] = name
	}
	return db
}

// Load reads the first readable ID file. Subsequent calls return the
// first result without reading again.
//
// It returns true if a file was read, false if none could be opened. A
// file that cannot be read to the end is an error and contributes no
// entries. The built-in vendors are available either way.
func (db *Database) Load() (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return db.fromFile, db.loadErr
	}
	db.loaded = true

	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		vendors, devices, err := parse(f)
		f.Close()
		if err != nil {
			db.loadErr = fmt.Errorf("tpmid: %s: %w", path, err)
			return false, db.loadErr
		}
		for vid, name := range vendors {
			db.vendors[vid] = name
		}
		for id, name := range devices {
			db.devices[id] = name
		}
		db.fromFile = true
		return true, nil
	}
	return false, nil
}

// parse reads the ID file format:
//
//	# comment
//	15d1  Infineon Technologies
//		001b  SLB9670
//
// Vendor lines start in column zero; device lines are tab-indented and
// belong to the preceding vendor. Malformed lines are skipped.
func parse(r io.Reader) (map[uint16]string, map[uint32]string, error) {
	vendors := make(map[uint16]string)
	devices := make(map[uint32]string)
	scanner := bufio.NewScanner(r)
	var vid uint16
	haveVendor := false

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		device := line[0] == '\t'
		id, name, ok := splitEntry(strings.TrimPrefix(line, "\t"))

		switch {
		case device && haveVendor && ok:
			devices[uint32(vid)<<16|uint32(id)] = name
		case device:
			// Orphaned or malformed device line.
		case ok:
			vid, haveVendor = id, true
			vendors[vid] = name
		default:
			haveVendor = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return vendors, devices, nil
}

// splitEntry parses "xxxx  Name".
func splitEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimLeft(s[5:], " ")
	if name == "" {
		return 0, "", false
	}
	return uint16(id), name, true
}

// LookupVendor returns the vendor name for vid, or "".
func (db *Database) LookupVendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// LookupDevice returns the device name for vid/did, or "".
func (db *Database) LookupDevice(vid, did uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.devices[uint32(vid)<<16|uint32(did)]
}

// Describe formats vid and did with any known names, e.g.
// "Infineon SLB9670 (15d1:001b)".
func (db *Database) Describe(vid, did uint16) string {
	parts := make([]string, 0, 3)
	if v := db.LookupVendor(vid); v != "" {
		parts = append(parts, v)
	}
	if d := db.LookupDevice(vid, did); d != "" {
		parts = append(parts, d)
	}
	parts = append(parts, fmt.Sprintf("(%04x:%04x)", vid, did))
	return strings.Join(parts, " ")
}

// IsLoaded reports whether Load has been called.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}

// VendorCount returns the number of known vendors.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// DeviceCount returns the number of known devices.
func (db *Database) DeviceCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.devices)
}
