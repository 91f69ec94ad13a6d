package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/wire"
)

// replayOptions holds flags for the replay command.
type replayOptions struct {
	Bootstrap string
	Packets   string
	Format    string // "text" | "json"
	Dump      bool
}

// ReplayRejection describes one packet the reconciler refused.
type ReplayRejection struct {
	Packet int    `json:"packet"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ReplayResult summarises a replay run.
type ReplayResult struct {
	Packets      int               `json:"packets"`
	Applied      int               `json:"applied"`
	Filtered     int               `json:"filtered"`
	Rejected     int               `json:"rejected"`
	Controls     int               `json:"controls"`
	DecodeErrors int               `json:"decode_errors"`
	Revision     string            `json:"revision"`
	Entities     int               `json:"entities"`
	Models       map[string]int    `json:"models"`
	Rejections   []ReplayRejection `json:"rejections,omitempty"`

	Snapshot *entity.Snapshot `json:"snapshot,omitempty"`
}

func newReplayCommand() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded update packets offline",
		Long: `Install a recorded bootstrap document and feed recorded update-channel
packets through the decoder and reconciler, without contacting an NVR.

The packets file is a JSON array of base64 strings, or one base64 packet
per line. Rejected packets are reported and skipped.

Examples:
  graylogic-nvr replay --bootstrap bootstrap.json --packets packets.json
  graylogic-nvr replay --bootstrap bootstrap.json --packets packets.txt --format json --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Bootstrap, "bootstrap", "", "bootstrap JSON document (required)")
	cmd.Flags().StringVar(&opts.Packets, "packets", "", "recorded packets file (required)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "include the final snapshot (json format only)")
	_ = cmd.MarkFlagRequired("bootstrap")
	_ = cmd.MarkFlagRequired("packets")

	return cmd
}

func runReplay(out io.Writer, opts *replayOptions) error {
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
	}

	doc, err := os.ReadFile(opts.Bootstrap)
	if err != nil {
		return fmt.Errorf("reading bootstrap: %w", err)
	}
	raw, err := os.ReadFile(opts.Packets)
	if err != nil {
		return fmt.Errorf("reading packets: %w", err)
	}
	packets, err := parsePackets(raw)
	if err != nil {
		return err
	}

	res, err := replay(doc, packets)
	if err != nil {
		return err
	}
	if !opts.Dump {
		res.Snapshot = nil
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printReplay(out, res)
	return nil
}

// parsePackets decodes a JSON array of base64 strings, or one base64 string
// per non-empty line.
func parsePackets(raw []byte) ([][]byte, error) {
	var encoded []string
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, fmt.Errorf("parsing packets: %w", err)
		}
	} else {
		for _, line := range strings.Split(string(raw), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				encoded = append(encoded, line)
			}
		}
	}

	packets := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		p, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// replay installs the bootstrap document and applies packets in order,
// sequencing them the way a live link does.
//
// Returns:
//   - *ReplayResult: counters, rejections and the final snapshot
//   - error: if the bootstrap document is malformed or incomplete
func replay(doc []byte, packets [][]byte) (*ReplayResult, error) {
	snap, err := entity.ParseBootstrap(doc, time.Now())
	if err != nil {
		return nil, fmt.Errorf("parsing bootstrap: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("validating bootstrap: %w", err)
	}

	c := cache.New()
	defer c.Close()
	c.Install(snap)

	decoder := wire.NewDecoder()
	reconciler := reconcile.New(c)
	res := &ReplayResult{Packets: len(packets)}

	var seq uint64
	for i, p := range packets {
		decoded, err := decoder.Decode(p)
		if err != nil {
			res.DecodeErrors++
			continue
		}
		if decoded.Control != nil {
			res.Controls++
			continue
		}

		m := decoded.Mutation
		seq++
		m.Revision.Seq = seq

		applied, err := reconciler.Apply(m)
		if err != nil {
			res.Rejected++
			rej := ReplayRejection{Packet: i, ID: m.ID, Error: err.Error()}
			var rejErr *reconcile.RejectError
			if errors.As(err, &rejErr) {
				rej.Reason = string(rejErr.Reason)
			}
			res.Rejections = append(res.Rejections, rej)
			// The rejected packet never reached the cache; keep the next
			// one contiguous with what did.
			seq--
			continue
		}
		if applied.Filtered {
			res.Filtered++
		} else {
			res.Applied++
		}
	}

	final := c.Snapshot()
	res.Revision = final.Revision.UpdateID
	res.Entities = len(final.Entities)
	res.Models = make(map[string]int)
	for model, n := range final.Count() {
		res.Models[string(model)] = n
	}
	res.Snapshot = final
	return res, nil
}

func printReplay(out io.Writer, res *ReplayResult) {
	fmt.Fprintf(out, "Packets:       %d\n", res.Packets)
	fmt.Fprintf(out, "Applied:       %d\n", res.Applied)
	fmt.Fprintf(out, "Filtered:      %d\n", res.Filtered)
	fmt.Fprintf(out, "Rejected:      %d\n", res.Rejected)
	fmt.Fprintf(out, "Controls:      %d\n", res.Controls)
	fmt.Fprintf(out, "Decode errors: %d\n", res.DecodeErrors)
	fmt.Fprintf(out, "Revision:      %s\n", res.Revision)
	fmt.Fprintf(out, "Entities:      %d\n", res.Entities)

	models := make([]string, 0, len(res.Models))
	for m := range res.Models {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Fprintf(out, "  %-12s %d\n", m, res.Models[m])
	}

	for _, r := range res.Rejections {
		fmt.Fprintf(out, "rejected packet %d (%s): %s\n", r.Packet, r.Reason, r.Error)
	}
}
