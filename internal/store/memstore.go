package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// MemStore implements Store in memory. Used by tests and ephemeral runs.
// Safe for concurrent use; unique-key races resolve under the mutex exactly
// like the SQLite unique indexes do.
type MemStore struct {
	mu           sync.Mutex
	tasks        map[int64]*Task
	taskByKey    map[taskKey]int64
	taskByNonce  map[string]int64
	nextTask     int64
	subs         map[int64]*Submission
	subByKey     map[taskKey]int64
	nextSub      int64
	results      map[int64][]*CheckResult // keyed by submission id
	nextResult   int64
	participants map[string]*Participant
}

type taskKey struct {
	participant string
	taskID      string
	round       int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:        make(map[int64]*Task),
		taskByKey:    make(map[taskKey]int64),
		taskByNonce:  make(map[string]int64),
		subs:         make(map[int64]*Submission),
		subByKey:     make(map[taskKey]int64),
		results:      make(map[int64][]*CheckResult),
		participants: make(map[string]*Participant),
	}
}

func (s *MemStore) Close() error { return nil }

// --- Tasks ---

func (s *MemStore) CreateTask(t *Task) (int64, error) {
	if t == nil {
		return 0, errors.New("task is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{t.Participant, t.TaskID, t.Round}
	if _, ok := s.taskByKey[key]; ok {
		return 0, ErrAlreadyExists
	}
	if _, ok := s.taskByNonce[t.Nonce]; ok {
		return 0, ErrAlreadyExists
	}
	s.nextTask++
	cp := *t
	cp.ID = s.nextTask
	if cp.CreatedAt == "" {
		cp.CreatedAt = now()
	}
	s.tasks[cp.ID] = &cp
	s.taskByKey[key] = cp.ID
	s.taskByNonce[cp.Nonce] = cp.ID
	t.ID = cp.ID
	t.CreatedAt = cp.CreatedAt
	return cp.ID, nil
}

func (s *MemStore) GetTask(participant, taskID string, round int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.taskByKey[taskKey{participant, taskID, round}]
	if !ok {
		return nil, nil
	}
	cp := *s.tasks[id]
	return &cp, nil
}

func (s *MemStore) GetTaskByNonce(nonce string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.taskByNonce[nonce]
	if !ok {
		return nil, nil
	}
	cp := *s.tasks[id]
	return &cp, nil
}

func (s *MemStore) ListTasksByRound(round int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Task
	for _, t := range s.tasks {
		if t.Round == round {
			cp := *t
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemStore) ListTasksByParticipant(participant string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Task
	for _, t := range s.tasks {
		if t.Participant == participant {
			cp := *t
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemStore) UpdateTaskDelivery(id int64, statusCode int, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errors.New("task not found")
	}
	t.StatusCode = statusCode
	t.DeliveryError = deliveryErr
	return nil
}

// --- Submissions ---

func (s *MemStore) CreateSubmission(sub *Submission) (int64, error) {
	if sub == nil {
		return 0, errors.New("submission is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{sub.Participant, sub.TaskID, sub.Round}
	if _, ok := s.subByKey[key]; ok {
		return 0, ErrAlreadyExists
	}
	s.nextSub++
	cp := *sub
	cp.ID = s.nextSub
	if cp.ReceivedAt == "" {
		cp.ReceivedAt = now()
	}
	s.subs[cp.ID] = &cp
	s.subByKey[key] = cp.ID
	sub.ID = cp.ID
	sub.ReceivedAt = cp.ReceivedAt
	return cp.ID, nil
}

func (s *MemStore) GetSubmission(participant, taskID string, round int) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.subByKey[taskKey{participant, taskID, round}]
	if !ok {
		return nil, nil
	}
	cp := *s.subs[id]
	return &cp, nil
}

func (s *MemStore) GetSubmissionByID(id int64) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *MemStore) ListSubmissionsByRound(round int) ([]*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Submission
	for _, sub := range s.subs {
		if sub.Round == round {
			cp := *sub
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemStore) ListUnevaluatedSubmissions(round int) ([]*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Submission
	for _, sub := range s.subs {
		if sub.Round == round && len(s.results[sub.ID]) == 0 {
			cp := *sub
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// --- Check results ---

func (s *MemStore) ReplaceResults(submissionID int64, results []*CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]*CheckResult, 0, len(results))
	for _, r := range results {
		s.nextResult++
		cp := *r
		cp.ID = s.nextResult
		cp.SubmissionID = submissionID
		if cp.CreatedAt == "" {
			cp.CreatedAt = now()
		}
		stored = append(stored, &cp)
		r.ID = cp.ID
		r.SubmissionID = submissionID
		r.CreatedAt = cp.CreatedAt
	}
	s.results[submissionID] = stored
	return nil
}

func (s *MemStore) ListResultsBySubmission(submissionID int64) ([]*CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*CheckResult
	for _, r := range s.results[submissionID] {
		cp := *r
		list = append(list, &cp)
	}
	return list, nil
}

func (s *MemStore) ListResultsForParticipantRound(participant string, round int) ([]*CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*CheckResult
	for subID, rs := range s.results {
		sub, ok := s.subs[subID]
		if !ok || sub.Participant != participant || sub.Round != round {
			continue
		}
		for _, r := range rs {
			cp := *r
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// --- Participants ---

func (s *MemStore) UpsertParticipant(p *Participant) error {
	if p == nil {
		return errors.New("participant is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if existing, ok := s.participants[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt == "" {
		cp.CreatedAt = now()
	}
	s.participants[cp.ID] = &cp
	return nil
}

func (s *MemStore) GetParticipant(id string) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListParticipants() ([]*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Participant
	for _, p := range s.participants {
		cp := *p
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *MemStore) RemoveParticipant(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
	return nil
}

// --- Export ---

func (s *MemStore) ExportRows() ([]*ExportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*ExportRow
	for subID, rs := range s.results {
		sub, ok := s.subs[subID]
		if !ok {
			continue
		}
		for _, r := range rs {
			list = append(list, &ExportRow{
				Participant:      sub.Participant,
				TaskID:           sub.TaskID,
				Round:            sub.Round,
				Check:            r.Check,
				Score:            r.Score,
				Reason:           r.Reason,
				ArtifactLocation: sub.ArtifactLocation,
				ContentID:        sub.ContentID,
				RenderedURL:      sub.RenderedURL,
				CreatedAt:        r.CreatedAt,
			})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Participant != b.Participant {
			return a.Participant < b.Participant
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Round < b.Round
	})
	return list, nil
}
