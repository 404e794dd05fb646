package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// SaveReport writes results to path as indented JSON.
func SaveReport(path string, results []JobResult) error {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrap(err, "writing report")
	}
	return nil
}

// WriteSummary writes a plain-text summary of r.
func WriteSummary(w io.Writer, name string, r Result) error {
	verdict := "PASS"
	if !r.Pass {
		verdict = "FAIL"
	}

	_, err := fmt.Fprintf(w, "%s: %s (mode %s, param 0x%x)\n"+
		"\ttotal transmitted: %d\n"+
		"\ttransmitted with controls allowed: %d\n"+
		"\tblocked: %d\n"+
		"\tblocked with controls allowed: %d\n"+
		"\treceived: %d (rejected %d, returned %d)\n"+
		"\tinvalid entries: %d, clock regressions: %d\n"+
		"\tblocked addresses: %s\n",
		name, verdict, r.Mode, r.Param,
		r.Transmitted, r.TransmittedWhileArmed, r.Blocked, r.BlockedWhileArmed,
		r.Received, r.ReceiveRejected, r.Returned,
		r.Invalid, r.ClockRegressions,
		formatAddresses(r.BlockedAddresses))
	return err
}

func formatAddresses(addrs []uint32) string {
	if len(addrs) == 0 {
		return "none"
	}
	s := ""
	for i, a := range addrs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("0x%X", a)
	}
	return s
}
