package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	KindPhotoToVideo     JobKind = "photo_to_video"
	KindVideoTranslation JobKind = "video_translation"
	KindEmotionControl   JobKind = "emotion_control"
	KindAudioReplacement JobKind = "audio_replacement"
)

// Kinds lists every supported job kind.
var Kinds = []JobKind{
	KindPhotoToVideo,
	KindVideoTranslation,
	KindEmotionControl,
	KindAudioReplacement,
}

// Valid reports whether k is a recognized kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindPhotoToVideo, KindVideoTranslation, KindEmotionControl, KindAudioReplacement:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is valid from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// transitionSources maps a target status to the statuses it may be reached
// from. A processor may report a terminal outcome without ever acknowledging
// a start, so terminal states are reachable straight from queued.
var transitionSources = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusQueued},
	JobStatusSucceeded:  {JobStatusQueued, JobStatusProcessing},
	JobStatusFailed:     {JobStatusQueued, JobStatusProcessing},
}

// TransitionSources returns the statuses from which to is reachable.
func TransitionSources(to JobStatus) []JobStatus {
	return transitionSources[to]
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// JobStats aggregates lifecycle counters across all jobs.
type JobStats struct {
	Total       int64
	Succeeded   int64
	Failed      int64
	SuccessRate float64
}

// Job is one user-initiated generation request and its lifecycle record.
// Jobs are appended and mutated in place (status plus result/error fields);
// the store never deletes them.
type Job struct {
	ID             string
	OwnerID        string
	Kind           JobKind
	Status         JobStatus
	SourceAssetKey string
	ParamsJSON     []byte
	ResultAssetKey string
	ErrorMessage   string
	ProcessorRef   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
