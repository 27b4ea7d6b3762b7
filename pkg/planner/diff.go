package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// diffSnapshots computes the structural difference between two snapshots.
// All three slices come back sorted by canonical name.
func diffSnapshots(base, target types.Snapshot) (added, removed, modified []string) {
	for name, hash := range target.Models {
		baseHash, existed := base.Models[name]
		switch {
		case !existed:
			added = append(added, name)
		case baseHash != hash:
			modified = append(modified, name)
		}
	}
	for name := range base.Models {
		if _, still := target.Models[name]; !still {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

// Identity preimages are length-framed with NUL separators so adjacent
// field values can never collide.
const (
	stepIDPrefix = "ironlayer-step-v1:"
	planIDPrefix = "ironlayer-plan-v1:"
)

// stepID derives a step's identity from (model, run type, input range,
// content hash). Cost estimates, reasons, and groups stay outside the
// identity so retraining a predictor never changes step ids.
func stepID(step types.PlanStep) string {
	h := sha256.New()
	h.Write([]byte(stepIDPrefix))
	for _, field := range []string{step.Model, string(step.RunType)} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	if step.InputRange != nil {
		h.Write([]byte(step.InputRange.Start))
		h.Write([]byte{0})
		h.Write([]byte(step.InputRange.End))
		h.Write([]byte{0})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(step.ContentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// planID derives the plan identity from the two revision labels and the
// ordered step ids.
func planID(baseRev, targetRev string, steps []types.PlanStep) string {
	h := sha256.New()
	h.Write([]byte(planIDPrefix))
	h.Write([]byte(baseRev))
	h.Write([]byte{0})
	h.Write([]byte(targetRev))
	h.Write([]byte{0})
	for _, s := range steps {
		h.Write([]byte(s.StepID))
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}
