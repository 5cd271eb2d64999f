package model

import "strconv"

// Deployment is the subset of a deployment operation needed to address it
type Deployment struct {
	ID        string
	Workspace string
	Sequence  uint64

	// GenerationInitialSequence is the sequence of the first deployment in
	// the generation, zero when the deployment predates generations.
	GenerationInitialSequence uint64
}

// URLFragment returns the versioned fragment used in deployment URLs. All
// deployments of one generation share the fragment.
func (d Deployment) URLFragment() string {
	seq := d.Sequence
	if d.GenerationInitialSequence != 0 {
		seq = d.GenerationInitialSequence
	}
	return "v" + strconv.FormatUint(seq, 10)
}

// Ref returns the deployment as a health check target
func (d Deployment) Ref() TargetRef {
	return TargetRef{Kind: TargetDeployment, ID: d.ID}
}
