// Package tpmdev adapts a [tis.Chip] to the go-tpm2 transmission
// interface, so the full go-tpm2 command set can drive a TIS chip.
//
// # Usage
//
//	chip, err := tis.New(transport)
//	if err != nil {
//	    return err
//	}
//	if err := chip.Init(); err != nil {
//	    return err
//	}
//	tpm := tpmdev.NewTPMContext(chip)
//	defer tpm.Close()
//	if err := tpm.SelfTest(true); err != nil {
//	    return err
//	}
//
// # Contention
//
// When another bus master holds the TPM, Send and Receive fail with
// [pkg.ErrBusy]. The TCTI retries them separately using [DefaultRetry]
// (or the strategy given to [WithRetry]), so a command is never
// submitted twice. Other errors are returned at once.
package tpmdev
