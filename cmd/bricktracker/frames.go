package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Frames longer than this are rejected by the scanner
const maxFrameBytes = 1 << 20

// detectionInput is one element of an input line
type detectionInput struct {
	X     int           `json:"x"`
	Y     int           `json:"y"`
	Shape tracker.Shape `json:"shape"`
	Color tracker.Color `json:"color"`
}

type tokenOutput struct {
	ID          int           `json:"id"`
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	SmoothedX   float64       `json:"smoothed_x"`
	SmoothedY   float64       `json:"smoothed_y"`
	Shape       tracker.Shape `json:"shape"`
	Color       tracker.Color `json:"color"`
	Disappeared int           `json:"disappeared"`
}

// frameOutput is written as one line per input frame
type frameOutput struct {
	Frame        int           `json:"frame"`
	Tokens       []tokenOutput `json:"tokens"`
	Registered   []int         `json:"registered,omitempty"`
	Deregistered []int         `json:"deregistered,omitempty"`
	Refreshed    bool          `json:"refreshed"`
	Errors       []string      `json:"errors,omitempty"`
}

func parseFrame(line string) ([]tracker.Detection, error) {
	var inputs []detectionInput
	if err := json.Unmarshal([]byte(line), &inputs); err != nil {
		return nil, err
	}
	detections := make([]tracker.Detection, 0, len(inputs))
	for _, in := range inputs {
		detections = append(detections, tracker.NewDetection(in.X, in.Y, in.Shape, in.Color))
	}
	return detections, nil
}

func newFrameOutput(frame int, result *tracker.FrameResult) frameOutput {
	out := frameOutput{
		Frame:        frame,
		Tokens:       make([]tokenOutput, 0, len(result.Tokens)),
		Registered:   result.Registered,
		Deregistered: result.Deregistered,
		Refreshed:    result.Refreshed,
	}
	for _, token := range result.Tokens {
		smoothed := token.Smoothed()
		out.Tokens = append(out.Tokens, tokenOutput{
			ID:          token.ID,
			X:           token.Centroid.X,
			Y:           token.Centroid.Y,
			SmoothedX:   smoothed.X,
			SmoothedY:   smoothed.Y,
			Shape:       token.Shape,
			Color:       token.Color,
			Disappeared: token.DisappearedCount,
		})
	}
	for _, err := range result.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

// processFrames feeds every input line to the tracker and writes one result line per frame.
// Blank lines are empty frames. Lines that are not valid JSON are logged and skipped.
func processFrames(ctx context.Context, r io.Reader, w io.Writer, brickTracker *tracker.IdentityTracker, log *logrus.Entry) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	encoder := json.NewEncoder(w)

	frame := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return frame, err
		}
		line := strings.TrimSpace(scanner.Text())
		var detections []tracker.Detection
		if line != "" {
			var err error
			detections, err = parseFrame(line)
			if err != nil {
				log.WithError(err).WithField("frame", frame).Warn("skipping malformed frame")
				continue
			}
		}
		result := brickTracker.Update(detections)
		if err := encoder.Encode(newFrameOutput(frame, result)); err != nil {
			return frame, errors.Wrapf(err, "write frame %d", frame)
		}
		frame++
	}
	if err := scanner.Err(); err != nil {
		return frame, errors.Wrap(err, "read frames")
	}
	return frame, nil
}
