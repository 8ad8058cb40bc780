package store

import "errors"

// DefaultDBPath is the default relative path for the SQLite DB.
// Resolve against cwd; Open() creates the parent dir (e.g. .practicum).
const DefaultDBPath = ".practicum/practicum.db"

// ErrAlreadyExists is returned by Create* methods when the unique key for the
// record is already taken. Losers of a concurrent insert race observe this
// rather than a raw constraint error.
var ErrAlreadyExists = errors.New("record already exists")

// Store is the persistence facade for the round pipeline.
// Tasks, Submissions and CheckResults live here exclusively; all other
// components access them only through this interface. Implementations are
// SQLite or in-memory and must be safe for concurrent use.
type Store interface {
	// Task operations
	CreateTask(t *Task) (int64, error)
	GetTask(participant, taskID string, round int) (*Task, error)
	GetTaskByNonce(nonce string) (*Task, error)
	ListTasksByRound(round int) ([]*Task, error)
	ListTasksByParticipant(participant string) ([]*Task, error)
	// UpdateTaskDelivery records the delivery outcome on an issued task.
	// This is the only mutation a Task ever receives.
	UpdateTaskDelivery(id int64, statusCode int, deliveryErr string) error

	// Submission operations
	CreateSubmission(s *Submission) (int64, error)
	GetSubmission(participant, taskID string, round int) (*Submission, error)
	GetSubmissionByID(id int64) (*Submission, error)
	ListSubmissionsByRound(round int) ([]*Submission, error)
	// ListUnevaluatedSubmissions returns round submissions with no check
	// results yet. Makes the evaluation pass resumable by construction.
	ListUnevaluatedSubmissions(round int) ([]*Submission, error)

	// CheckResult operations. ReplaceResults swaps the full result set for a
	// submission atomically; re-evaluation never leaves a partial set.
	ReplaceResults(submissionID int64, results []*CheckResult) error
	ListResultsBySubmission(submissionID int64) ([]*CheckResult, error)
	ListResultsForParticipantRound(participant string, round int) ([]*CheckResult, error)

	// Participant registry
	UpsertParticipant(p *Participant) error
	GetParticipant(id string) (*Participant, error)
	ListParticipants() ([]*Participant, error)
	RemoveParticipant(id string) error

	// ExportRows flattens check results joined with submission/task identity,
	// one row per check.
	ExportRows() ([]*ExportRow, error)

	Close() error
}
