// Package scoring implements the Scoring Service (spec.md §4.G): the
// per-task Scorer variants, the relay to external ranking endpoints, and
// the RPC surface ES calls into once a submission is fully evaluated.
package scoring

import "github.com/cms-dev/cms/internal/domain"

// subtaskGroup is one entry of the shape ScoreParameters takes for GroupMin/GroupMul/
// Relative: an ordered list of (multiplier, testcase count) pairs, summed
// left to right over the outcomes slice in the order the dataset's
// testcases were evaluated. This is the JSON cms's own scoretypes/*.py
// groups use ([[mult, count], ...]), not a per-testcase group label on
// the Testcase entity itself.
type subtaskGroup struct {
	Multiplier float64
	Count      int
}
