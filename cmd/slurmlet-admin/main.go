// slurmlet-admin is an administrative reset tool. It opens the bbolt file
// directly rather than going through pkg/store, and is the only code that
// deletes job records: the scheduler and CLI never remove a row.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/types"
)

var (
	dataDir    = flag.String("data-dir", defaultDataDir(), "slurmlet data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would change without making changes")
	backupPath = flag.String("backup", "", "Path to back up the database before mutating (default: <db>.backup)")

	purgeOlderThan = flag.Duration("purge-terminal-older-than", 0, "Purge COMPLETED/FAILED/CANCELLED jobs with an end time older than this duration (0 disables)")
	forceClearID   = flag.Int64("force-clear-running", 0, "Force a stuck RUNNING job id to FAILED (for a row whose child is gone, e.g. after a daemon crash)")
)

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".slurmlet")
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)
	log.Println("slurmlet admin reset tool")

	dbPath := filepath.Join(*dataDir, "slurmlet.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}
	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("failed to create backup: %v", err)
		}
		log.Println("backup created")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if *purgeOlderThan > 0 {
		if err := purgeTerminalJobs(db, *purgeOlderThan, *dryRun); err != nil {
			log.Fatalf("purge failed: %v", err)
		}
	}

	if *forceClearID != 0 {
		if err := forceClearRunning(db, *forceClearID, *dryRun); err != nil {
			log.Fatalf("force-clear failed: %v", err)
		}
	}

	if *purgeOlderThan <= 0 && *forceClearID == 0 {
		log.Println("nothing to do: pass --purge-terminal-older-than or --force-clear-running")
	}
}

// purgeTerminalJobs removes terminal job rows whose end time is older than
// cutoff.
func purgeTerminalJobs(db *bolt.DB, olderThan time.Duration, dryRun bool) error {
	cutoff := float64(time.Now().Add(-olderThan).Unix())
	var candidates []int64

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.JobsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				log.Printf("skipping unreadable record %s: %v", k, err)
				return nil
			}
			if job.Status.Terminal() && job.EndTime > 0 && job.EndTime < cutoff {
				candidates = append(candidates, job.ID)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("found %d terminal job(s) older than %s", len(candidates), olderThan)
	if dryRun || len(candidates) == 0 {
		return nil
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.JobsBucket))
		if b == nil {
			return nil
		}
		for _, id := range candidates {
			key := store.JobKey(id)
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("delete job %d: %w", id, err)
			}
		}
		return nil
	})
}

// forceClearRunning marks a single stuck RUNNING row FAILED: a row left
// RUNNING with no live child (e.g. after a daemon crash), which
// store.ReconcileOrphans otherwise only clears on the next daemon start.
func forceClearRunning(db *bolt.DB, id int64, dryRun bool) error {
	key := store.JobKey(id)
	var job types.Job

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.JobsBucket))
		if b == nil {
			return fmt.Errorf("no jobs bucket")
		}
		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("job %d not found", id)
		}
		return json.Unmarshal(v, &job)
	})
	if err != nil {
		return err
	}

	if job.Status != types.JobRunning {
		return fmt.Errorf("job %d is %s, not RUNNING", id, job.Status)
	}

	log.Printf("job %d: RUNNING (pid %d) -> FAILED", id, job.Pid)
	if dryRun {
		return nil
	}

	job.Status = types.JobFailed
	job.Pid = 0
	job.ReturnCode = -1
	job.Comment = "force-cleared by slurmlet-admin"
	job.EndTime = float64(time.Now().Unix())

	data, err := json.Marshal(&job)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.JobsBucket))
		if b == nil {
			return fmt.Errorf("no jobs bucket")
		}
		return b.Put(key, data)
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
