package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/bus"
)

var bucketDeadLetters = []byte("dead_letters")

// DeadLetterRecord is the stored envelope for one failed message.
type DeadLetterRecord struct {
	Reason        string            `json:"reason"`
	FailedAt      time.Time         `json:"failed_at"`
	MessageID     string            `json:"message_id"`
	Topic         string            `json:"topic"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	TraceID       string            `json:"trace_id,omitempty"`
	Type          string            `json:"type"`
	Priority      string            `json:"priority"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       string            `json:"payload"`
}

// DeadLetterStore archives failed messages in BoltDB for later
// inspection. It is an archive, not a queue: records are appended by the
// bus and read back by operators.
type DeadLetterStore struct {
	db *bolt.DB
}

// NewDeadLetterStore opens (or creates) the archive under dataDir.
func NewDeadLetterStore(dataDir string) (*DeadLetterStore, error) {
	dbPath := filepath.Join(dataDir, "burrow-dlq.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeadLetters)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &DeadLetterStore{db: db}, nil
}

// Close closes the database.
func (s *DeadLetterStore) Close() error {
	return s.db.Close()
}

// Append stores one failed message. Implements bus.DeadLetterSink.
func (s *DeadLetterStore) Append(reason string, msg *bus.Message) error {
	record := DeadLetterRecord{
		Reason:        reason,
		FailedAt:      time.Now(),
		MessageID:     msg.ID,
		Topic:         msg.Topic,
		Source:        msg.Source,
		Target:        msg.Target,
		CorrelationID: msg.CorrelationID,
		TraceID:       msg.TraceID,
		Type:          msg.Type.String(),
		Priority:      msg.Priority.String(),
		Headers:       msg.Headers,
	}
	if msg.Payload != nil {
		record.Payload = msg.Payload.Serialize()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeadLetters)
		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d/%s", record.FailedAt.UnixNano(), msg.ID)
		return b.Put([]byte(key), data)
	})
}

// List returns up to limit records in failure order; limit <= 0 returns
// everything.
func (s *DeadLetterStore) List(limit int) ([]*DeadLetterRecord, error) {
	var records []*DeadLetterRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeadLetters)
		return b.ForEach(func(k, v []byte) error {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			var record DeadLetterRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return records, nil
}

// Count returns the number of archived records.
func (s *DeadLetterStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketDeadLetters).Stats().KeyN
		return nil
	})
	return count, err
}

// Purge deletes every archived record.
func (s *DeadLetterStore) Purge() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketDeadLetters); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketDeadLetters)
		return err
	})
}
