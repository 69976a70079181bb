package domain

// Stage names one step of the publish pipeline.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageSanitizing  Stage = "sanitizing"
	StageUploading   Stage = "uploading"
	StageRegistering Stage = "registering"
	StageComplete    Stage = "complete"
)

// Progress is one progress event emitted during a publish. Percentage is
// strictly non-decreasing within a single publish call.
type Progress struct {
	Stage         Stage
	Percentage    float64
	BytesUploaded int64
	TotalBytes    int64
	Message       string
}

// ProgressFunc receives progress events. Implementations must not block.
type ProgressFunc func(Progress)

// Report invokes fn if it is non-nil.
func (fn ProgressFunc) Report(p Progress) {
	if fn != nil {
		fn(p)
	}
}
