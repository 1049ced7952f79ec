package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ── chain files ──────────────────────────────────────────────────────────────

// readChain loads events from path ("-" for stdin). Both a bare JSON array
// and an object with an "events" array are accepted. A missing file is an
// empty chain.
func readChain(path string) ([]custody.Event, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}
	return decodeChain(raw)
}

func decodeChain(raw []byte) ([]custody.Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var events []custody.Event
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("decode chain: %w", err)
		}
		return events, nil
	}
	var wrapped struct {
		Events []custody.Event `json:"events"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	return wrapped.Events, nil
}

func writeChain(path string, events []custody.Event) error {
	b, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// extendChain appends f to chain, linking it to the hash of the latest event
// in chain order.
func extendChain(chain []custody.Event, f custody.Fields, opts ...custody.ValidateOption) ([]custody.Event, custody.Event, error) {
	prev := ""
	if len(chain) > 0 {
		if chain[0].LotID != f.LotID {
			return nil, custody.Event{}, fmt.Errorf("%w: chain is for %q, event for %q", custody.ErrMixedLots, chain[0].LotID, f.LotID)
		}
		sorted := custody.Sorted(chain, opts...)
		last := sorted[len(sorted)-1]
		if err := custody.CheckSuccessor(last, f, opts...); err != nil {
			return nil, custody.Event{}, err
		}
		prev = last.Hash
	}
	ev, err := custody.Append(f, prev)
	if err != nil {
		return nil, custody.Event{}, err
	}
	return append(chain, ev), ev, nil
}

func parseData(s string) (custody.Payload, error) {
	if s == "" {
		return nil, nil
	}
	var p custody.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return p, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--timestamp must be RFC 3339: %w", err)
	}
	return t, nil
}

func tieBreakOpt(s string) ([]custody.ValidateOption, error) {
	tb, err := custody.ParseTieBreak(s)
	if err != nil {
		return nil, err
	}
	return []custody.ValidateOption{custody.WithTieBreak(tb)}, nil
}

func printVerdict(cmd *cobra.Command, v custody.Verdict, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else if v.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ chain valid (%d events)\n", v.Length)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ chain diverges at event %s (position %d of %d): %s\n",
			v.FailedAt, v.Index+1, v.Length, v.Reason)
	}
	if !v.Valid {
		return errors.New("chain invalid")
	}
	return nil
}

// ── hash ─────────────────────────────────────────────────────────────────────

var (
	hashPrev      string
	hashCanonical bool
)

var hashCmd = &cobra.Command{
	Use:   "hash <fields.json|->",
	Short: "Compute the hash of one event's fields over a predecessor hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}
		var f custody.Fields
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decode fields: %w", err)
		}

		canonical, err := custody.Encode(f, hashPrev)
		if err != nil {
			return err
		}
		if hashCanonical {
			fmt.Fprintln(cmd.OutOrStdout(), string(canonical))
		}
		fmt.Fprintln(cmd.OutOrStdout(), custody.Digest(canonical))
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVar(&hashPrev, "prev", "", "predecessor hash (empty for the first event of a lot)")
	hashCmd.Flags().BoolVar(&hashCanonical, "canonical", false, "also print the canonical encoding")
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendLot      string
	appendType     string
	appendActor    string
	appendID       string
	appendTime     string
	appendData     string
	appendTieBreak string
)

var appendCmd = &cobra.Command{
	Use:   "append <chain.json>",
	Short: "Append a custody event to a local chain file",
	Long: `append links a new event to the latest event of a local chain file and
writes the file back. The file is created when it does not exist.

  lotchain append lot-42.json --lot LOT-42 --type harvested --actor u-planter \
      --data '{"weightKg":148,"parcel":"Parcelle Nord"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := custody.ParseEventType(appendType)
		if err != nil {
			return err
		}
		data, err := parseData(appendData)
		if err != nil {
			return err
		}
		ts, err := parseTimestamp(appendTime)
		if err != nil {
			return err
		}
		opts, err := tieBreakOpt(appendTieBreak)
		if err != nil {
			return err
		}
		if appendID == "" {
			appendID = uuid.New().String()
		}

		chain, err := readChain(args[0])
		if err != nil {
			return err
		}
		chain, ev, err := extendChain(chain, custody.Fields{
			ID:        appendID,
			LotID:     appendLot,
			Type:      typ,
			Timestamp: ts,
			ActorUID:  appendActor,
			Data:      data,
		}, opts...)
		if err != nil {
			return err
		}
		if err := writeChain(args[0], chain); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "appended %s (%s)\n  hash: %s\n  prev: %s\n", ev.ID, ev.Type, ev.Hash, ev.PrevHash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendLot, "lot", "", "lot id")
	appendCmd.Flags().StringVar(&appendType, "type", "", "event type (harvested, received-by-cooperative, certification-approved, certification-rejected)")
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "actor uid")
	appendCmd.Flags().StringVar(&appendID, "id", "", "event id (default: random UUID)")
	appendCmd.Flags().StringVar(&appendTime, "timestamp", "", "RFC 3339 timestamp (default: now)")
	appendCmd.Flags().StringVar(&appendData, "data", "", "JSON object payload")
	appendCmd.Flags().StringVar(&appendTieBreak, "tie-break", "input", "ordering of equal timestamps: input or id")

	_ = appendCmd.MarkFlagRequired("lot")
	_ = appendCmd.MarkFlagRequired("type")
	_ = appendCmd.MarkFlagRequired("actor")
}

// ── validate ─────────────────────────────────────────────────────────────────

var (
	validateTieBreak string
	validateJSON     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <chain.json|->",
	Short: "Validate a chain file offline",
	Long: `validate recomputes every hash of a lot's chain and reports the first
divergent event. It exits non-zero when the chain is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := tieBreakOpt(validateTieBreak)
		if err != nil {
			return err
		}
		chain, err := readChain(args[0])
		if err != nil {
			return err
		}
		v, err := custody.Validate(chain, opts...)
		if err != nil {
			return err
		}
		return printVerdict(cmd, v, validateJSON)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateTieBreak, "tie-break", "input", "ordering of equal timestamps: input or id")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the verdict as JSON")
}
