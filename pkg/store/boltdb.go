package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/slurmlet/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs = []byte("jobs")
	bucketMeta = []byte("meta")
	keyNextID  = []byte("next_id")
)

// JobsBucket and JobKey expose the on-disk layout to slurmlet-admin, which
// opens the bbolt file directly rather than through the Store interface.
const JobsBucket = "jobs"

// JobKey returns the bbolt key for job id, matching idKey below.
func JobKey(id int64) []byte {
	return idKey(id)
}

// ErrNotFound is returned by Get when no job has the given id.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned by UpdateStatus when a transition is
// rejected by the state machine (e.g. cancelling a non-PENDING job).
var ErrInvalidTransition = errors.New("invalid job status transition")

// BoltStore implements Store over a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens the bbolt-backed job store at dbPath, creating its
// parent directory, the database file and its buckets if absent.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create jobs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (s *BoltStore) InsertPending(job *types.Job) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		jobs := tx.Bucket(bucketJobs)

		next := uint64(1)
		if raw := meta.Get(keyNextID); raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		id = int64(next)

		job.ID = id
		job.Status = types.JobPending

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := jobs.Put(idKey(id), data); err != nil {
			return err
		}

		nextBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(nextBuf, next+1)
		return meta.Put(keyNextID, nextBuf)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

func (s *BoltStore) List(filter ListFilter) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	return jobs, err
}

func (s *BoltStore) Get(id int64) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) UpdateStatus(id int64, status types.JobStatus, mutate func(*types.Job)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}

		if status == types.JobCancelled && job.Status == types.JobCancelled {
			// Cancelling an already-CANCELLED job is a no-op.
			return nil
		}
		if job.Status.Terminal() {
			return fmt.Errorf("%w: job %d is already %s", ErrInvalidTransition, id, job.Status)
		}
		if status == types.JobCancelled && job.Status != types.JobPending {
			return fmt.Errorf("%w: job %d cannot be cancelled from %s", ErrInvalidTransition, id, job.Status)
		}

		job.Status = status
		if mutate != nil {
			mutate(&job)
		}

		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), updated)
	})
}

func (s *BoltStore) SetCurrentCPUs(id int64, cpus int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		job.CurrentCPUs = cpus
		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), updated)
	})
}

func (s *BoltStore) SetNodes(id int64, nodes []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		job.SetNodeList(nodes)
		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), updated)
	})
}

// ReconcileOrphans is run once at daemon startup: a crashed daemon cannot
// have live children under its new process, so every row left RUNNING is
// not actually running anything anymore.
func (s *BoltStore) ReconcileOrphans() (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)

		// Collect first: writing back while a cursor walks the bucket is
		// undefined in bbolt.
		var orphaned []*types.Job
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == types.JobRunning {
				orphaned = append(orphaned, &job)
			}
		}

		for _, job := range orphaned {
			job.Status = types.JobFailed
			job.ReturnCode = -1
			job.Pid = 0
			job.Comment = "orphaned at daemon startup: no live child for a RUNNING row"
			updated, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := b.Put(idKey(job.ID), updated); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
