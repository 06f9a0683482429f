package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kwv/roverbrain/internal/log"
)

// Replay record types. A record is one JSON object per line whose other
// fields are the matching MQTT payload.
const (
	RecordControl    = "control"
	RecordDetections = "detections"
	RecordCommand    = "command"
)

const maxReplayLine = 1 << 20

// ReplaySummary describes a finished replay.
type ReplaySummary struct {
	Records         int   `json:"records"`
	ControlTicks    int   `json:"controlTicks"`
	PerceptionTicks int   `json:"perceptionTicks"`
	Commands        int   `json:"commands"`
	Final           State `json:"final"`
}

// Replay feeds a JSON Lines log through the core in file order. Samples
// without a dt advance by one control period. Blank lines and lines starting
// with '#' are skipped; any other malformed line aborts the replay.
func Replay(ctx context.Context, r io.Reader, core *Core) (ReplaySummary, error) {
	var sum ReplaySummary
	defaultDT := 1 / core.Config().Pose.ControlRate

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}

		switch head.Type {
		case RecordControl:
			s, err := DecodeControlSample(raw)
			if err != nil {
				return sum, fmt.Errorf("line %d: %w", line, err)
			}
			if s.DT == 0 {
				s.DT = defaultDT
			}
			core.ControlTick(s)
			sum.ControlTicks++
		case RecordDetections:
			batch, err := DecodeDetectionBatch(raw)
			if err != nil {
				return sum, fmt.Errorf("line %d: %w", line, err)
			}
			core.PerceptionTick(batch)
			sum.PerceptionTicks++
		case RecordCommand:
			cmd, err := DecodeCommand(raw)
			if err != nil {
				return sum, fmt.Errorf("line %d: %w", line, err)
			}
			if err := core.Apply(cmd); err != nil {
				return sum, fmt.Errorf("line %d: %w", line, err)
			}
			sum.Commands++
		default:
			return sum, fmt.Errorf("line %d: unknown record type %q", line, head.Type)
		}
		sum.Records++
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("reading replay: %w", err)
	}

	sum.Final = core.Snapshot()
	log.Debug("replay finished", "records", sum.Records, "landmarks", len(sum.Final.Landmarks))
	return sum, nil
}

// WriteSummary prints the final pose, a landmark table and the decision.
func (s ReplaySummary) WriteSummary(w io.Writer) error {
	f := s.Final
	fmt.Fprintf(w, "records: %d (control %d, detections %d, commands %d)\n",
		s.Records, s.ControlTicks, s.PerceptionTicks, s.Commands)
	fmt.Fprintf(w, "pose: x=%.3f y=%.3f theta=%.3f (%s)\n", f.Pose.X, f.Pose.Y, f.Pose.Theta, f.Kinematics)
	fmt.Fprintf(w, "decision: %s\n", f.Decision)
	fmt.Fprintf(w, "summary: %s\n\n", f.Summary)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tX\tY\tRADIUS\tOBS\tLOCKED\tSIZE")
	for _, l := range f.Landmarks {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%.3f\t%d\t%t\t%s\n",
			l.ID, l.Label, l.X, l.Y, l.Radius, l.Observations, l.Locked, l.SizeClass)
	}
	return tw.Flush()
}
