package sim

import (
	"crypto/rand"
	"io"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
)

// Response codes the default handler produces besides success.
const (
	RCInsufficient tpm2.ResponseCode = 0x09A // TPM_RC_INSUFFICIENT
	RCFailure      tpm2.ResponseCode = 0x101 // TPM_RC_FAILURE
	RCCommandSize  tpm2.ResponseCode = 0x142 // TPM_RC_COMMAND_SIZE
	RCCommandCode  tpm2.ResponseCode = 0x143 // TPM_RC_COMMAND_CODE
)

// MaxRandomBytes caps the size of a TPM2_GetRandom response.
const MaxRandomBytes = 32

// RandReader supplies the bytes returned by TPM2_GetRandom.
var RandReader io.Reader = rand.Reader

// DefaultHandler executes the small command subset a simulated chip
// understands: TPM2_Startup, TPM2_SelfTest and TPM2_GetRandom. Any other
// command answers TPM_RC_COMMAND_CODE and malformed packets answer
// TPM_RC_COMMAND_SIZE.
func DefaultHandler(cmd []byte) []byte {
	packet := tpm2.CommandPacket(cmd)
	code, err := packet.GetCommandCode()
	if err != nil {
		return Response(RCCommandSize, nil)
	}
	_, _, params, err := packet.Unmarshal(0)
	if err != nil {
		return Response(RCCommandSize, nil)
	}

	switch code {
	case tpm2.CommandStartup, tpm2.CommandSelfTest:
		return Response(tpm2.ResponseSuccess, nil)

	case tpm2.CommandGetRandom:
		var n uint16
		if _, err := mu.UnmarshalFromBytes(params, &n); err != nil {
			return Response(RCInsufficient, nil)
		}
		if n > MaxRandomBytes {
			n = MaxRandomBytes
		}
		digest := make(tpm2.Digest, n)
		if _, err := io.ReadFull(RandReader, digest); err != nil {
			return Response(RCFailure, nil)
		}
		return Response(tpm2.ResponseSuccess, mu.MustMarshalToBytes(digest))
	}

	return Response(RCCommandCode, nil)
}

// Response builds a TPM_ST_NO_SESSIONS response packet carrying rc and the
// already marshalled params.
func Response(rc tpm2.ResponseCode, params []byte) []byte {
	hdr := tpm2.ResponseHeader{
		Tag:          tpm2.TagNoSessions,
		ResponseSize: uint32(10 + len(params)),
		ResponseCode: rc,
	}
	return mu.MustMarshalToBytes(hdr, mu.RawBytes(params))
}
