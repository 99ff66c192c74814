package memory

import (
	"hash/fnv"
	"math"
	"strings"

	"maestro/internal/types"
)

// FeatureDims is the dimensionality of the pattern feature space. Every
// vector produced by this package has exactly this length; the KD-tree
// and the archive's vec table both depend on it.
const FeatureDims = 12

var intentIndex = map[types.Intent]int{
	types.IntentDeploy:      0,
	types.IntentCreateNew:   1,
	types.IntentInvestigate: 2,
	types.IntentValidate:    3,
	types.IntentFixIssue:    4,
	types.IntentModify:      5,
	types.IntentDocument:    6,
	types.IntentOptimize:    7,
	types.IntentDesign:      8,
}

var taskTypeIndex = map[types.TaskType]int{
	types.TaskCreative:      0,
	types.TaskCommunicative: 1,
	types.TaskAnalytical:    2,
	types.TaskOperational:   3,
	types.TaskTechnical:     4,
}

// FeatureVector projects one execution pattern into the 12-dimensional
// feature space used for nearest-neighbor retrieval. Each dimension is
// normalized to [0, 1] so no single axis dominates the distance metric.
//
// Dimensions:
//
//	0  objective length bucket
//	1  intent
//	2  domain (cascade position)
//	3  task type
//	4  complexity
//	5  agent count
//	6  success flag
//	7  log duration bucket
//	8  log token bucket
//	9  project type hash
//	10 tags bag hash
//	11 hour of day
func FeatureVector(p *types.ExecutionPattern) []float32 {
	v := make([]float32, FeatureDims)

	v[0] = lengthBucket(len(p.Objective))
	v[1] = intentDim(p.ObjectiveType)
	v[2] = domainDim(p.Domain)
	v[3] = taskTypeDim(p.TaskType)
	v[4] = complexityDim(p.Complexity)
	v[5] = clamp01(float32(len(p.AgentsUsed)) / 8.0)
	if p.Success {
		v[6] = 1.0
	}
	v[7] = logBucket(float64(p.TotalDurationMs), 1e7)
	v[8] = logBucket(float64(p.TotalTokens), 1e6)
	v[9] = hashDim(p.ProjectContext.ProjectType)
	v[10] = bagHashDim(p.Tags)
	v[11] = float32(p.Timestamp.Hour()) / 23.0

	return v
}

// QueryVector builds the feature-space query for a fresh objective before
// any execution exists. Outcome dimensions (success, duration, tokens) are
// set to the values of the patterns worth finding: successful runs of
// typical cost.
func QueryVector(objective string, analysis *types.ObjectiveAnalysis, pctx types.ProjectContext) []float32 {
	v := make([]float32, FeatureDims)

	v[0] = lengthBucket(len(objective))
	v[1] = intentDim(analysis.Intent)
	v[2] = domainDim(analysis.Domain)
	v[3] = taskTypeDim(analysis.TaskType)
	v[4] = complexityDim(analysis.Complexity)
	v[5] = clamp01(float32(len(analysis.RecommendedAgents)) / 8.0)
	v[6] = 1.0 // prefer successful patterns
	v[7] = 0.5
	v[8] = 0.5
	v[9] = hashDim(pctx.ProjectType)
	v[10] = bagHashDim(pctx.Tags)
	v[11] = 0.5 // hour is an outcome signal, not a query signal

	return v
}

func intentDim(i types.Intent) float32 {
	idx, ok := intentIndex[i]
	if !ok {
		idx = len(intentIndex)
	}
	return float32(idx) / float32(len(intentIndex))
}

func domainDim(d types.Domain) float32 {
	for i, known := range types.Domains {
		if known == d {
			return float32(i) / float32(len(types.Domains))
		}
	}
	return 1.0
}

func taskTypeDim(t types.TaskType) float32 {
	idx, ok := taskTypeIndex[t]
	if !ok {
		idx = len(taskTypeIndex)
	}
	return float32(idx) / float32(len(taskTypeIndex))
}

func complexityDim(c types.Complexity) float32 {
	switch c {
	case types.ComplexitySimple:
		return 0.0
	case types.ComplexityModerate:
		return 0.5
	default:
		return 1.0
	}
}

// lengthBucket compresses objective length into a handful of coarse steps
// so near-identical objectives land in the same bucket.
func lengthBucket(n int) float32 {
	switch {
	case n == 0:
		return 0.0
	case n < 40:
		return 0.2
	case n < 120:
		return 0.4
	case n < 300:
		return 0.6
	case n < 800:
		return 0.8
	default:
		return 1.0
	}
}

// logBucket maps a count onto [0, 1] on a log scale, saturating at max.
func logBucket(n, max float64) float32 {
	if n <= 0 {
		return 0
	}
	return clamp01(float32(math.Log1p(n) / math.Log1p(max)))
}

// hashDim folds a string into one of 16 stable buckets. FNV keeps the
// mapping deterministic across processes.
func hashDim(s string) float32 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(s)))
	return float32(h.Sum32()%16) / 16.0
}

// bagHashDim hashes a tag set order-independently by XORing the per-tag
// hashes before bucketing.
func bagHashDim(tags []string) float32 {
	if len(tags) == 0 {
		return 0
	}
	var acc uint32
	for _, t := range tags {
		h := fnv.New32a()
		h.Write([]byte(strings.ToLower(strings.TrimSpace(t))))
		acc ^= h.Sum32()
	}
	return float32(acc%16) / 16.0
}

func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is all zeros.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EuclideanSq returns the squared euclidean distance between two vectors.
func EuclideanSq(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
