package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/agrisentinel/lotchain/pkg/client"
	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newClient() (*client.Client, error) {
	var opts []client.Option
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(serverURL, opts...)
}

// saveSession writes server_url and token to the CLI config file.
func saveSession(token string) (string, error) {
	viper.Set("server_url", serverURL)
	viper.Set("token", token)

	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, ".lotchain", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, os.Chmod(path, 0o600)
}

// ── login ────────────────────────────────────────────────────────────────────

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a lotchaind server and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdin := bufio.NewReader(cmd.InOrStdin())
		if loginEmail == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Email: ")
			line, _ := stdin.ReadString('\n')
			loginEmail = strings.TrimSpace(line)
		}
		if loginPassword == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			line, _ := stdin.ReadString('\n')
			loginPassword = strings.TrimSpace(line)
		}

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		res, err := c.Login(context.Background(), loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		path, err := saveSession(res.Token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged in as %s (%s)\n  session saved to %s\n", res.Actor.Name, res.Actor.Role, path)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prompted when empty)")
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recordType string
	recordID   string
	recordTime string
	recordData string
)

var recordCmd = &cobra.Command{
	Use:   "record <lotId>",
	Short: "Record a custody action on a lot as the logged-in actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := custody.ParseEventType(recordType)
		if err != nil {
			return err
		}
		data, err := parseData(recordData)
		if err != nil {
			return err
		}
		req := client.RecordRequest{ID: recordID, Type: typ, Data: data}
		if recordTime != "" {
			ts, err := parseTimestamp(recordTime)
			if err != nil {
				return err
			}
			req.Timestamp = &ts
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ev, err := c.Record(context.Background(), args[0], req)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s recorded on %s\n  id:   %s\n  hash: %s\n", ev.Type, ev.LotID, ev.ID, ev.Hash)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordType, "type", "", "event type")
	recordCmd.Flags().StringVar(&recordID, "id", "", "event id (default: assigned by the server)")
	recordCmd.Flags().StringVar(&recordTime, "timestamp", "", "RFC 3339 timestamp (default: server time)")
	recordCmd.Flags().StringVar(&recordData, "data", "", "JSON object payload")
	_ = recordCmd.MarkFlagRequired("type")
}

// ── lots / show ──────────────────────────────────────────────────────────────

var lotsCmd = &cobra.Command{
	Use:   "lots",
	Short: "List lot ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ids, err := c.Lots(context.Background())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <lotId>",
	Short: "Show a lot's custody history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		var v *client.LotView
		if c.Token() != "" {
			v, err = c.Lot(ctx, args[0])
		} else {
			v, err = c.PublicLot(ctx, args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if showJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}

		trust := "trusted"
		if !v.Trusted {
			trust = "UNTRUSTED (diverges at " + v.Verdict.FailedAt + ")"
		}
		fmt.Fprintf(out, "Lot:     %s\nStatus:  %s\nHead:    %s\nChain:   %s\n\n", v.LotID, v.Status, v.Head, trust)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tTYPE\tACTOR\tID\tHASH")
		for _, e := range v.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				custody.FormatTimestamp(e.Timestamp), e.Type, e.ActorUID, e.ID, shortHash(e.Hash))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(v.Actions) > 0 {
			fmt.Fprintf(out, "\nYou may record: %v\n", v.Actions)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the lot view as JSON")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyServer   bool
	verifyTieBreak string
	verifyJSON     bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <lotId>",
	Short: "Verify a lot's chain",
	Long: `verify downloads the lot's public chain and validates it locally, so the
result does not depend on trusting the server. Use --server-verdict to print the
server's own verdict instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var v custody.Verdict
		if verifyServer {
			v, err = c.Verify(ctx, args[0])
		} else {
			opts, optErr := tieBreakOpt(verifyTieBreak)
			if optErr != nil {
				return optErr
			}
			v, err = c.VerifyLocally(ctx, args[0], opts...)
		}
		if err != nil {
			return err
		}
		return printVerdict(cmd, v, verifyJSON)
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyServer, "server-verdict", false, "ask the server for its verdict instead of validating locally")
	verifyCmd.Flags().StringVar(&verifyTieBreak, "tie-break", "input", "ordering of equal timestamps: input or id")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the verdict as JSON")
}
