// Package scope owns write admission and scope ascension: the write guard
// validates and routes every mutation, and the scope router mints the sealed
// submissions that carry content from LOCAL toward GLOBAL and MARKETPLACE.
package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"concord/internal/types"
)

// SubmissionStatus is the council verdict state.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "PENDING"
	SubmissionApproved SubmissionStatus = "APPROVED"
	SubmissionRejected SubmissionStatus = "REJECTED"
)

// ErrSealed rejects any payload mutation after sealing.
var ErrSealed = errors.New("scope: submission payload is sealed")

// Submission is an immutable request to promote a DTU into a higher scope.
// The payload is sealed at creation; only the status field ever changes,
// and only through council action.
type Submission struct {
	ID                 string           `json:"id"`
	DTUID              string           `json:"dtu_id"`
	TargetScope        types.Lane       `json:"target_scope"`
	PayloadHash        string           `json:"payload_hash"`          // 64-hex SHA-256
	SourceSnapshotHash string           `json:"source_snapshot_hash"`
	Status             SubmissionStatus `json:"status"`
	ActorID            string           `json:"actor_id"`
	CreatedAt          time.Time        `json:"created_at"`

	sealed  bool
	payload *types.DTU
}

// seal deep-copies the payload and locks the submission.
func (s *Submission) seal(d *types.DTU) {
	s.payload = d.Clone()
	s.sealed = true
}

// Sealed reports whether the payload is frozen. Always true after creation.
func (s *Submission) Sealed() bool { return s.sealed }

// Payload returns a deep copy of the sealed payload. Mutating the copy never
// touches the submission.
func (s *Submission) Payload() *types.DTU {
	return s.payload.Clone()
}

// MutatePayload always fails once sealed. It exists so callers attempting a
// write get an explicit error instead of silently editing a copy.
func (s *Submission) MutatePayload(func(*types.DTU)) error {
	if s.sealed {
		return ErrSealed
	}
	return errors.New("scope: submission has no payload")
}

// submissionJSON is the wire form. The sealed payload round-trips so a
// restored submission can still be approved.
type submissionJSON struct {
	ID                 string           `json:"id"`
	DTUID              string           `json:"dtu_id"`
	TargetScope        types.Lane       `json:"target_scope"`
	PayloadHash        string           `json:"payload_hash"`
	SourceSnapshotHash string           `json:"source_snapshot_hash"`
	Status             SubmissionStatus `json:"status"`
	ActorID            string           `json:"actor_id"`
	CreatedAt          time.Time        `json:"created_at"`
	Payload            *types.DTU       `json:"payload,omitempty"`
}

// MarshalJSON includes the sealed payload.
func (s *Submission) MarshalJSON() ([]byte, error) {
	return json.Marshal(submissionJSON{
		ID:                 s.ID,
		DTUID:              s.DTUID,
		TargetScope:        s.TargetScope,
		PayloadHash:        s.PayloadHash,
		SourceSnapshotHash: s.SourceSnapshotHash,
		Status:             s.Status,
		ActorID:            s.ActorID,
		CreatedAt:          s.CreatedAt,
		Payload:            s.payload,
	})
}

// UnmarshalJSON restores a sealed submission.
func (s *Submission) UnmarshalJSON(data []byte) error {
	var w submissionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID = w.ID
	s.DTUID = w.DTUID
	s.TargetScope = w.TargetScope
	s.PayloadHash = w.PayloadHash
	s.SourceSnapshotHash = w.SourceSnapshotHash
	s.Status = w.Status
	s.ActorID = w.ActorID
	s.CreatedAt = w.CreatedAt
	if w.Payload != nil {
		s.seal(w.Payload)
	}
	return nil
}

// snapshotHash hashes the full serialized DTU, meta included, so the
// submission pins the exact source state it was cut from.
func snapshotHash(d *types.DTU) string {
	data, _ := json.Marshal(d)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
