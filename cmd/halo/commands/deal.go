package commands

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/halonetworks/halo/src/frost"
)

var (
	dealThreshold uint16
	dealSigners   uint16
	dealOutDir    string
)

// NewDealCmd produces the command that deals a fresh threshold key. It
// writes one share file per signer; each file must be delivered to exactly
// one device's data directory as frost.json. Run once at genesis; later
// rotations happen through guardian ceremonies.
func NewDealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Deal a t-of-n threshold key",
		RunE:  deal,
	}

	cmd.Flags().Uint16VarP(&dealThreshold, "threshold", "t", 2, "Signing threshold")
	cmd.Flags().Uint16VarP(&dealSigners, "signers", "n", 3, "Number of signers")
	cmd.Flags().StringVarP(&dealOutDir, "out", "o", ".", "Directory where the share files are written")

	return cmd
}

func deal(cmd *cobra.Command, args []string) error {
	packages, pub, err := frost.Deal(rand.Reader, dealThreshold, dealSigners)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dealOutDir, 0700); err != nil {
		return err
	}

	for _, pkg := range packages {
		share := frost.NewShareFile(0, pub, &pkg)

		out := filepath.Join(dealOutDir, fmt.Sprintf("frost.%d.json", pkg.Index))
		if err := frost.WriteShareFile(out, share); err != nil {
			return err
		}

		fmt.Printf("Share %d written to: %s\n", pkg.Index, out)
	}

	fmt.Printf("Dealt a %d-of-%d key. Deliver each share to one device as frost.json.\n", dealThreshold, dealSigners)

	return nil
}
