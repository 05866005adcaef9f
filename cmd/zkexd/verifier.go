package main

import (
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core"
)

// envVerifier is the daemon's stand-in for a production proof system, which
// is deployed as an external capability. With ZKEX_UNSAFE_ACCEPT_ALL_PROOFS
// set it accepts every transition (dev networks only); otherwise it rejects
// all submissions, keeping an unconfigured node safe by default.
type envVerifier struct {
	acceptAll bool
}

func (v envVerifier) Verify(_, _ common.Hash, _ []byte) bool {
	return v.acceptAll
}

func loadVerifier(logger *slog.Logger) core.ProofVerifier {
	acceptAll := os.Getenv("ZKEX_UNSAFE_ACCEPT_ALL_PROOFS") == "1"
	if acceptAll {
		logger.Warn("proof verification DISABLED; all block proofs accepted (dev only)")
	}
	return envVerifier{acceptAll: acceptAll}
}
