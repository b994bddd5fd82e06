package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/certchain/internal/identity"
	"github.com/jmerrifield20/certchain/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	token     string
	outFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "certchain CLI",
	Long: `certctl is the command-line interface for a certchain server.

It issues certificate files into the hash-chained ledger, verifies files or
content hashes against it, and browses the chain.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".certchain"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("certchain")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.certchain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "certchain server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "issuer bearer token (env CERTCHAIN_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCmd = &cobra.Command{
	Use:   "hash <file> [file...]",
	Short: "Print the content hash of one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", client.HashBytes(data), path)
		}
		return nil
	},
}

// ── issue ────────────────────────────────────────────────────────────────────

var (
	issueMetadata string
	issueIssuer   string
)

var issueCmd = &cobra.Command{
	Use:   "issue <file>",
	Short: "Issue a certificate file into the ledger",
	Long: `Issue uploads a certificate file with its metadata and appends a record
to the ledger. Metadata is a flat JSON object of string, number and boolean
values, given inline or as @path:

  certctl issue diploma.pdf --metadata '{"name":"Jane Doe","institution":"MIT"}'
  certctl issue diploma.pdf --metadata @diploma.json --issuer registrar-01`,
	Args: cobra.ExactArgs(1),
	RunE: runIssue,
}

func init() {
	issueCmd.Flags().StringVar(&issueMetadata, "metadata", "{}", "metadata JSON object or @file")
	issueCmd.Flags().StringVar(&issueIssuer, "issuer", "", "issuer reference (ignored when the server authenticates issuers)")
}

func runIssue(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	md, err := parseMetadataFlag(issueMetadata)
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	cert, err := c.Issue(ctx, client.IssueRequest{
		FileName: filepath.Base(args[0]),
		Data:     data,
		Metadata: md,
		IssuerID: issueIssuer,
		SendHash: true,
	})
	if errors.Is(err, client.ErrConflict) {
		return fmt.Errorf("%s is already registered in the ledger", args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outFormat == "json" {
		return printJSON(out, cert)
	}
	fmt.Fprintf(out, "issued     %s\n", cert.ContentHash)
	fmt.Fprintf(out, "issuer     %s\n", cert.IssuerRef)
	fmt.Fprintf(out, "issued at  %s\n", cert.IssuedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(out, "chain link %s\n", cert.ChainLink)
	return nil
}

// parseMetadataFlag reads an inline JSON object or an @file reference.
func parseMetadataFlag(v string) (map[string]any, error) {
	raw := []byte(v)
	if path, ok := strings.CutPrefix(v, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata file: %w", err)
		}
		raw = b
	}
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return md, nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <file|0xhash>",
	Short: "Verify a certificate file or content hash against the ledger",
	Long: `Verify recomputes the chain link of the record for a file or content hash
and reports whether it is valid, tampered, or unknown. The command exits
non-zero unless the record is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	var res *client.VerifyResult
	arg := args[0]
	if isContentHash(arg) {
		res, err = c.Verify(ctx, arg)
	} else {
		data, rerr := os.ReadFile(arg)
		if rerr != nil {
			return rerr
		}
		res, err = c.VerifyFile(ctx, filepath.Base(arg), data)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outFormat == "json" {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "status   %s\n", res.Status)
		fmt.Fprintf(out, "message  %s\n", res.Message)
		if res.ChainStatus != nil {
			fmt.Fprintf(out, "chain    connected=%t prev_intact=%t next_intact=%t\n",
				res.ChainStatus.Connected, res.ChainStatus.PrevIntact, res.ChainStatus.NextIntact)
		}
		if res.Data != nil {
			fmt.Fprintf(out, "issuer   %s\n", res.Data.IssuerRef)
			fmt.Fprintf(out, "issued   %s\n", res.Data.IssuedAt.Format(time.RFC3339Nano))
		}
	}
	if !res.Valid {
		return fmt.Errorf("certificate is %s", res.Status)
	}
	return nil
}

// isContentHash reports whether s looks like 0x followed by 64 hex digits.
func isContentHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// ── recent ───────────────────────────────────────────────────────────────────

var (
	recentPage  int
	recentLimit int
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently issued certificates, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.Recent(cmd.Context(), recentPage, recentLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outFormat == "json" {
			return printJSON(out, page)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ISSUED\tHASH\tISSUER\tNAME\tVALID")
		for _, e := range page.Data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%t\n", e.IssuedAt, e.ContentHash, e.IssuerRef, e.Metadata["name"], e.Valid)
		}
		fmt.Fprintf(w, "\npage %d of %d (%d total)\n",
			page.Pagination.Page, page.Pagination.TotalPages, page.Pagination.Total)
		return w.Flush()
	},
}

func init() {
	recentCmd.Flags().IntVar(&recentPage, "page", 1, "page number (1-based)")
	recentCmd.Flags().IntVar(&recentLimit, "limit", 10, "records per page (max 100)")
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerAudit bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the ledger head, or audit the whole chain with --audit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if !ledgerAudit {
			ov, err := c.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			if outFormat == "json" {
				return printJSON(out, ov)
			}
			fmt.Fprintf(out, "records  %d\nhead     %s\n", ov.Records, ov.Head)
			return nil
		}

		report, err := c.Audit(cmd.Context())
		if err != nil {
			return err
		}
		if outFormat == "json" {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "records  %d\nflagged  %d\nhead     %s\nintact   %t\n",
				report.Records, report.Flagged, report.Head, report.Intact)
			if !report.Intact {
				fmt.Fprintf(out, "broken   %s (index %d)\n", report.BrokenAt, report.BrokenIndex)
			}
		}
		if !report.Intact {
			return errors.New("ledger chain is broken")
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerAudit, "audit", false, "walk the full chain and report the first broken link")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenIssuer string
	tokenName   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an issuer bearer token with the server's auth.jwt_secret",
	Long: `Token signs an issuer token locally. The secret is read from
CERTCHAIN_AUTH_JWT_SECRET (or auth.jwt_secret in the config file) and must
match the server's auth.jwt_secret.

  CERTCHAIN_AUTH_JWT_SECRET=... certctl token --issuer registrar-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenIssuer == "" {
			return errors.New("--issuer is required")
		}
		iss := viper.GetString("auth.issuer")
		if iss == "" {
			iss = "certchain"
		}
		tokens, err := identity.NewIssuerTokens(viper.GetString("auth.jwt_secret"), iss, tokenTTL)
		if err != nil {
			return err
		}
		signed, err := tokens.Issue(tokenIssuer, tokenName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "issuer reference to embed as the token subject")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name of the issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the certctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "certctl %s\n", version)
	},
}
