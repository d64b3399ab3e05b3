package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	bolt "github.com/boltdb/bolt"

	"telegram-assistant-bots/internal/crypt"
)

var (
	db     *bolt.DB
	cipher *crypt.Cipher
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

const (
	bucketHistory       = "history"          // parent bucket for per-chat history
	bucketHistoryLimits = "history_limits"   // key: chatID, value: limit
	bucketPending       = "sleep_pending"    // key: entry id, value: entry json
	bucketKnown         = "sleep_known"      // key: sequence, value: entry json
	bucketLastEntry     = "sleep_last_entry" // key: chatID, value: entry id
)

// Init opens the database file and creates buckets if needed.
func Init(path string) error {
	var err error
	db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketHistory, bucketHistoryLimits, bucketPending, bucketKnown, bucketLastEntry} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetCipher enables encryption of stored conversation content.
func SetCipher(c *crypt.Cipher) {
	cipher = c
}

// Ready reports whether Init has been called.
func Ready() bool {
	return db != nil
}

// Close closes the database.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

func chatKey(chatID int64) []byte {
	return []byte(strconv.FormatInt(chatID, 10))
}

// HistoryMessage represents a stored conversation turn.
type HistoryMessage struct {
	Role    string `json:"role"`
	When    int64  `json:"when"`
	Content string `json:"content"`
}

// SaveHistoryLimit sets the history limit for a chat.
func SaveHistoryLimit(chatID int64, limit int) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHistoryLimits))
		return b.Put(chatKey(chatID), []byte(strconv.Itoa(limit)))
	})
}

// LoadHistoryLimit retrieves the history limit for a chat. Default is 0.
func LoadHistoryLimit(chatID int64) (int, error) {
	var limit int
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHistoryLimits))
		v := b.Get(chatKey(chatID))
		if v == nil {
			return nil
		}
		i, err := strconv.Atoi(string(v))
		if err != nil {
			return err
		}
		limit = i
		return nil
	})
	return limit, err
}

// AddHistoryMessage stores a message for the given chat.
func AddHistoryMessage(chatID int64, msg HistoryMessage) error {
	content, err := cipher.Encrypt(msg.Content)
	if err != nil {
		return err
	}
	msg.Content = content
	return db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket([]byte(bucketHistory))
		cb, err := hb.CreateBucketIfNotExists(chatKey(chatID))
		if err != nil {
			return err
		}
		id, _ := cb.NextSequence()
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return cb.Put(key, data)
	})
}

// LoadHistory returns all stored history messages for a chat, oldest first.
func LoadHistory(chatID int64) ([]HistoryMessage, error) {
	var items []HistoryMessage
	err := db.View(func(tx *bolt.Tx) error {
		hb := tx.Bucket([]byte(bucketHistory))
		cb := hb.Bucket(chatKey(chatID))
		if cb == nil {
			return nil
		}
		return cb.ForEach(func(_, v []byte) error {
			var m HistoryMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			content, err := cipher.Decrypt(m.Content)
			if err != nil {
				return err
			}
			m.Content = content
			items = append(items, m)
			return nil
		})
	})
	return items, err
}

// CountHistory returns the number of stored messages for a chat.
func CountHistory(chatID int64) (int, error) {
	var count int
	err := db.View(func(tx *bolt.Tx) error {
		hb := tx.Bucket([]byte(bucketHistory))
		cb := hb.Bucket(chatKey(chatID))
		if cb == nil {
			return nil
		}
		count = cb.Stats().KeyN
		return nil
	})
	return count, err
}

// TrimHistory ensures the stored messages do not exceed the limit.
func TrimHistory(chatID int64, limit int) error {
	if limit <= 0 {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket([]byte(bucketHistory))
		cb := hb.Bucket(chatKey(chatID))
		if cb == nil {
			return nil
		}
		excess := cb.Stats().KeyN - limit
		if excess <= 0 {
			return nil
		}
		c := cb.Cursor()
		for i := 0; i < excess; i++ {
			k, _ := c.First()
			if k == nil {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearHistory deletes all stored messages for a chat and returns the number removed.
func ClearHistory(chatID int64) (int, error) {
	count, err := CountHistory(chatID)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	err = db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket([]byte(bucketHistory))
		return hb.DeleteBucket(chatKey(chatID))
	})
	return count, err
}

// SavePending stores a serialized sleep entry awaiting sync.
func SavePending(id string, payload []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPending)).Put([]byte(id), payload)
	})
}

// LoadPending returns all pending payloads in key order.
func LoadPending() ([][]byte, error) {
	var out [][]byte
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPending)).ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

// DeletePending removes a pending entry.
func DeletePending(id string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPending)).Delete([]byte(id))
	})
}

// ClearPending removes all pending entries and returns how many there were.
func ClearPending() (int, error) {
	var n int
	err := db.Update(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketPending)).Stats().KeyN
		if err := tx.DeleteBucket([]byte(bucketPending)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketPending))
		return err
	})
	return n, err
}

// ReplaceKnown swaps the cached backend entries for payloads.
func ReplaceKnown(payloads [][]byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketKnown)); err != nil {
			return err
		}
		b, err := tx.CreateBucket([]byte(bucketKnown))
		if err != nil {
			return err
		}
		for _, p := range payloads {
			id, _ := b.NextSequence()
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, id)
			if err := b.Put(key, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadKnown returns the cached backend entries in the order they were stored.
func LoadKnown() ([][]byte, error) {
	var out [][]byte
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKnown)).ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	return out, err
}

// SetLastEntry remembers the latest entry recorded from a chat.
func SetLastEntry(chatID int64, entryID string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLastEntry)).Put(chatKey(chatID), []byte(entryID))
	})
}

// LastEntry returns the latest entry id recorded from a chat.
func LastEntry(chatID int64) (string, error) {
	var val []byte
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketLastEntry)).Get(chatKey(chatID))
		if v == nil {
			return ErrNotFound
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return string(val), err
}
