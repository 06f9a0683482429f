package brain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// DecodeDetectionBatch parses a detections payload. A bare JSON array of
// detections is accepted as a batch with the default image width.
func DecodeDetectionBatch(payload []byte) (DetectionBatch, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return DetectionBatch{}, ErrEmptyPayload
	}

	var batch DetectionBatch
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &batch.Detections); err != nil {
			return DetectionBatch{}, fmt.Errorf("decoding detections: %w", err)
		}
	} else if err := json.Unmarshal(payload, &batch); err != nil {
		return DetectionBatch{}, fmt.Errorf("decoding detection batch: %w", err)
	}

	if batch.ImageWidth < 0 || math.IsNaN(batch.ImageWidth) {
		return DetectionBatch{}, fmt.Errorf("invalid image width %v", batch.ImageWidth)
	}
	for i, d := range batch.Detections {
		if d.Label == "" {
			return DetectionBatch{}, fmt.Errorf("detection[%d]: label is required", i)
		}
	}
	return batch, nil
}

// DecodeControlSample parses a control payload.
func DecodeControlSample(payload []byte) (ControlSample, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return ControlSample{}, ErrEmptyPayload
	}
	var s ControlSample
	if err := json.Unmarshal(payload, &s); err != nil {
		return ControlSample{}, fmt.Errorf("decoding control sample: %w", err)
	}
	if math.IsNaN(s.Throttle) || math.IsNaN(s.Steering) || math.IsNaN(s.DT) {
		return ControlSample{}, fmt.Errorf("control sample contains NaN")
	}
	return s, nil
}

// DecodeCommand parses a command payload.
func DecodeCommand(payload []byte) (Command, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Command{}, ErrEmptyPayload
	}
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	if c.Command == "" {
		return Command{}, fmt.Errorf("command is required")
	}
	return c, nil
}
