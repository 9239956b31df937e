package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/receipt"
)

func newVerifyReceiptCommand() *cobra.Command {
	var publicKeyHex string
	var traceID string

	cmd := &cobra.Command{
		Use:   "verify-receipt <receipt.json>",
		Short: "Verify a receipt against a trace ID and public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read receipt: %w", err)
			}
			var r core.Receipt
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("parse receipt: %w", err)
			}
			keyBytes, err := hex.DecodeString(publicKeyHex)
			if err != nil || len(keyBytes) != ed25519.PublicKeySize {
				return fmt.Errorf("public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
			}

			if !receipt.Verify(ed25519.PublicKey(keyBytes), &r, traceID) {
				return fmt.Errorf("receipt does NOT verify for trace %s", traceID)
			}
			fmt.Printf("receipt verifies: trace=%s model=%s issued=%s\n",
				traceID, r.RunnerModel, r.Timestamp)
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKeyHex, "public-key", "", "hex-encoded Ed25519 public key (required)")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "trace ID the receipt claims (required)")
	_ = cmd.MarkFlagRequired("public-key")
	_ = cmd.MarkFlagRequired("trace-id")
	return cmd
}
