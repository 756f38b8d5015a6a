package pipeline

// Stage names one step of a build.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageZonal     Stage = "zonal"
	StageBundle    Stage = "bundle"
	StageUpload    Stage = "upload"
	StagePublish   Stage = "publish"
)

// StageTitles are the labels the CLI shows for each stage.
var StageTitles = map[Stage]string{
	StageNormalize: "Normalizing AOI",
	StageZonal:     "Computing zonal statistics",
	StageBundle:    "Writing evidence bundle",
	StageUpload:    "Uploading tiles manifest",
	StagePublish:   "Publishing to staging",
}

// ProgressCallback is called during a build to report progress
type ProgressCallback func(event ProgressEvent)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Type    ProgressEventType
	Stage   Stage
	AOIID   string
	Message string
	Error   error
}

// ProgressEventType identifies the type of progress event
type ProgressEventType int

const (
	EventStageStart ProgressEventType = iota
	EventStageComplete
	EventStageSkipped
	EventError
)

// Stages lists the stages a request runs through, in order.
func (r BuildRequest) Stages() []Stage {
	s := []Stage{StageNormalize, StageZonal, StageBundle, StageUpload}
	if r.Publish {
		s = append(s, StagePublish)
	}
	return s
}
