package status

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"reel/internal/database"
	"reel/internal/job"
	"reel/internal/progress"
)

var ErrNotFound = errors.New("job not found")

// Store keeps job records, their live progress and the latest job of each
// owner. Progress lives under its own key so frequent writes never rewrite
// the job record.
type Store struct {
	db  database.Database
	ttl time.Duration
}

func NewStore(db database.Database, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl}
}

func jobKey(id string) string {
	return "job." + id
}

func progressKey(id string) string {
	return "job." + id + ".progress"
}

func ownerKey(ownerID string) string {
	return "owner." + ownerID + ".job"
}

func (s *Store) Save(j *job.Job) error {
	data, err := json.Marshal(j)

	if err != nil {
		return errors.Wrapf(err, "unable to marshal job '%s'", j.ID)
	}

	if err = s.db.Set(jobKey(j.ID), string(data), s.ttl); err != nil {
		return errors.Wrapf(err, "unable to store job '%s'", j.ID)
	}

	return nil
}

// Get loads a job with its latest progress applied.
func (s *Store) Get(id string) (*job.Job, error) {
	data, err := s.db.Get(jobKey(id))

	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "'%s'", id)
		}

		return nil, errors.Wrapf(err, "unable to get job '%s'", id)
	}

	var j job.Job

	if err = json.Unmarshal([]byte(data), &j); err != nil {
		return nil, errors.Wrapf(err, "unable to decode job '%s'", id)
	}

	if j.State == job.Processing {
		if u, err := s.progress(id); err == nil {
			j.Progress(u.Percent, u.CurrentStep, u.OverallStep)
		}
	}

	return &j, nil
}

func (s *Store) Status(id string) (job.Status, error) {
	j, err := s.Get(id)

	if err != nil {
		return job.Status{}, err
	}

	return j.Status(), nil
}

// Progress records the live progress of a running job.
func (s *Store) Progress(id string, u progress.Update) error {
	data, err := json.Marshal(u)

	if err != nil {
		return errors.Wrap(err, "unable to marshal progress")
	}

	return s.db.Set(progressKey(id), string(data), s.ttl)
}

func (s *Store) progress(id string) (progress.Update, error) {
	var u progress.Update

	data, err := s.db.Get(progressKey(id))

	if err != nil {
		return u, err
	}

	err = json.Unmarshal([]byte(data), &u)
	return u, err
}

// ClearProgress drops the live progress of a job, once an attempt ended.
func (s *Store) ClearProgress(id string) error {
	return s.db.Delete(progressKey(id))
}

// SetLatest makes jobID the current job of ownerID.
func (s *Store) SetLatest(ownerID, jobID string) error {
	return s.db.Set(ownerKey(ownerID), jobID, s.ttl)
}

// Latest returns the current job of ownerID.
func (s *Store) Latest(ownerID string) (string, error) {
	id, err := s.db.Get(ownerKey(ownerID))

	if errors.Is(err, database.ErrNotFound) {
		return "", errors.Wrapf(ErrNotFound, "no job for owner '%s'", ownerID)
	}

	return id, err
}

// ClearLatest withdraws the current job of ownerID.
func (s *Store) ClearLatest(ownerID string) error {
	return s.db.Delete(ownerKey(ownerID))
}
