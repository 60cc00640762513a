package jobstatus

// Stage is a named phase of the ingestion pipeline.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageChunking   Stage = "chunking"
	StageFacts      Stage = "facts"
	StageEmbedding  Stage = "embedding"
	StageSaving     Stage = "saving"
	StageComplete   Stage = "complete"
)

// stageOrder fixes the forward order of stages.
var stageOrder = map[Stage]int{
	StageExtraction: 0,
	StageChunking:   1,
	StageFacts:      2,
	StageEmbedding:  3,
	StageSaving:     4,
	StageComplete:   5,
}

// stageFloors is the minimum percentComplete reported once a stage is entered.
var stageFloors = map[Stage]int{
	StageExtraction: 5,
	StageChunking:   20,
	StageFacts:      30,
	StageEmbedding:  70,
	StageSaving:     90,
	StageComplete:   100,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Index returns the position of s in the forward order, or -1 if unknown.
func (s Stage) Index() int {
	i, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return i
}

// Floor returns the minimum percent for s.
func (s Stage) Floor() int {
	return stageFloors[s]
}

// After reports whether s comes strictly after other.
func (s Stage) After(other Stage) bool {
	return s.Index() > other.Index()
}

// Transition computes the stage and percent that result from requesting
// (next, percent) while at (cur, curPercent). Stages never move backward,
// percent never decreases, and entering a stage lifts percent to its floor.
// Unknown requested stages leave the stage unchanged.
func Transition(cur Stage, curPercent int, next Stage, percent int) (Stage, int) {
	stage := cur
	if next.Valid() && next.After(cur) {
		stage = next
	}

	p := clampPercent(percent)
	if p < curPercent {
		p = curPercent
	}
	if floor := stage.Floor(); p < floor {
		p = floor
	}
	if stage == StageComplete {
		p = 100
	}
	return stage, p
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
