package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"threadloom/internal/identity"
)

// consentCmd administers the ingestion consent registry. Grants are scoped
// to one community (a guild id or repo slug); authors are addressed by their
// opaque handle, and --raw-id hashes a platform id first for operators
// holding the original identifier.
var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage ingestion consent",
}

var (
	consentRawID bool
	consentScope string
)

var consentGrantCmd = &cobra.Command{
	Use:   "grant <author-handle>",
	Short: "Record an author's ingestion consent for one community",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsentGrant,
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <author-handle>",
	Short: "Revoke an author's ingestion consent for one community",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsentRevoke,
}

func init() {
	consentCmd.PersistentFlags().BoolVar(&consentRawID, "raw-id", false,
		"treat the argument as a raw platform id and hash it")
	consentCmd.PersistentFlags().StringVar(&consentScope, "scope", "",
		"community the consent applies to (guild id or owner/repo)")
	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
}

func consentHandle(arg string) string {
	if consentRawID {
		return identity.HashString(arg)
	}
	return arg
}

func runConsentGrant(cmd *cobra.Command, args []string) error {
	if consentScope == "" {
		return fmt.Errorf("--scope is required: consent is per community")
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handle := consentHandle(args[0])
	if err := a.consents.Grant(cmd.Context(), consentScope, handle); err != nil {
		return err
	}
	fmt.Printf("Consent granted for %.8s... in %s\n", handle, consentScope)
	return nil
}

func runConsentRevoke(cmd *cobra.Command, args []string) error {
	if consentScope == "" {
		return fmt.Errorf("--scope is required: consent is per community")
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handle := consentHandle(args[0])
	if err := a.consents.Revoke(cmd.Context(), consentScope, handle); err != nil {
		return err
	}
	fmt.Printf("Consent revoked for %.8s... in %s\n", handle, consentScope)
	return nil
}
