// Package integrity binds an answer submission to its room, user, question,
// answer and a coarse 10-second time bucket. The encoding must stay bit-exact
// with the browser client, which does:
//
//	btoa(JSON.stringify({roomId, userId, questionIndex, answerIndex, timestamp}))
//	  .replace(/[^a-zA-Z0-9]/g, '')
package integrity

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"
)

// BucketWidth is the coarse timestamp resolution.
const BucketWidth = 10 * time.Second

// Tuple is the canonical input. Field order matters: it fixes the JSON key order.
type Tuple struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	QuestionIndex int    `json:"questionIndex"`
	AnswerIndex   int    `json:"answerIndex"`
}

type canonical struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	QuestionIndex int    `json:"questionIndex"`
	AnswerIndex   int    `json:"answerIndex"`
	Timestamp     int64  `json:"timestamp"`
}

// Bucket returns floor(epoch_seconds / 10) for t.
func Bucket(t time.Time) int64 {
	return t.Unix() / int64(BucketWidth/time.Second)
}

// Digest computes the digest of tuple for the given bucket.
func Digest(tuple Tuple, bucket int64) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// JSON.stringify does not escape <, > or &.
	enc.SetEscapeHTML(false)
	_ = enc.Encode(canonical{
		RoomID:        tuple.RoomID,
		UserID:        tuple.UserID,
		QuestionIndex: tuple.QuestionIndex,
		AnswerIndex:   tuple.AnswerIndex,
		Timestamp:     bucket,
	})
	raw := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return alnum(base64.StdEncoding.EncodeToString(raw))
}

// DigestAt computes the digest for the bucket containing t.
func DigestAt(tuple Tuple, t time.Time) string {
	return Digest(tuple, Bucket(t))
}

func alnum(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			out = append(out, c)
		}
	}
	return string(out)
}

// Verifier checks client digests against the server clock.
type Verifier struct {
	// Buckets is how many buckets are accepted, counting back from the
	// current one. 1 is strict; 2 also accepts the preceding bucket.
	Buckets int
	now     func() time.Time
}

// NewVerifier returns a verifier accepting the current and the preceding
// bucket when buckets is 2.
func NewVerifier(buckets int) *Verifier {
	return NewVerifierWithClock(buckets, time.Now)
}

// NewVerifierWithClock is used by tests for deterministic buckets.
func NewVerifierWithClock(buckets int, now func() time.Time) *Verifier {
	if buckets < 1 {
		buckets = 1
	}
	return &Verifier{Buckets: buckets, now: now}
}

// Verify reports whether digest matches tuple in any accepted bucket of the
// current server time.
func (v *Verifier) Verify(tuple Tuple, digest string) bool {
	return v.VerifyAt(tuple, digest, v.now())
}

// VerifyAt checks digest against the buckets ending at `at`, the server time
// the submission was received. Redelivered submissions keep their verdict.
func (v *Verifier) VerifyAt(tuple Tuple, digest string, at time.Time) bool {
	if digest == "" {
		return false
	}
	current := Bucket(at)
	for i := 0; i < v.Buckets; i++ {
		want := Digest(tuple, current-int64(i))
		if subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1 {
			return true
		}
	}
	return false
}
